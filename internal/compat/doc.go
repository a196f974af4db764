// Package compat decides which compatibility defines an analyzer build needs
// for a given Dart VM revision.
//
// The Dart VM headers change shape between releases: classes are renamed,
// stubs come and go, accessors get unified. Instead of keeping a version
// table, the scanner looks for literal marker strings in the installed
// headers and turns each observed fact into a -D define. The rule table lives
// in rules.yaml and its order is the order of the emitted defines.
package compat
