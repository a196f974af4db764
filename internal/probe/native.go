package probe

import (
	"bytes"
	"context"
	"debug/elf"
	"debug/macho"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

const (
	snapshotSymbol = "_kDartVmSnapshotData"
	snapshotMagic  = 0xdcdcf5f5

	// magic(4) + length(8) + kind(8)
	snapshotHeaderSize = 20
	snapshotHashSize   = 32

	// Upper bound on bytes read from the snapshot when the symbol carries no
	// size. The features string sits right after the header.
	snapshotReadLimit = 4096
)

// engineVersionPattern matches the version banner compiled into the Flutter
// engine, e.g. `3.4.2 (stable) (Wed Jun 5 07:39:33 2024 +0000) on "android_arm64"`.
var engineVersionPattern = regexp.MustCompile(
	`(\d+\.\d+\.\d+(?:-[0-9A-Za-z.]+)?) \((?:stable|beta|dev|main)\)[^\x00"]*? on "([a-z]+)_([a-z0-9]+)"`)

var knownOS = map[string]bool{
	"android": true, "ios": true, "linux": true, "macos": true, "windows": true, "fuchsia": true,
}

var knownArch = map[string]bool{
	"arm": true, "arm64": true, "ia32": true, "x64": true, "riscv32": true, "riscv64": true,
}

// NativeProbe reads ELF and Mach-O images directly.
type NativeProbe struct {
	logger *zap.Logger
}

// NewNativeProbe creates a NativeProbe.
func NewNativeProbe(logger *zap.Logger) *NativeProbe {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NativeProbe{logger: logger}
}

// Probe implements Probe.
func (p *NativeProbe) Probe(ctx context.Context, appPath, enginePath string) (*Info, error) {
	snap, err := readSnapshot(appPath)
	if err != nil {
		return nil, err
	}

	hash, flags, err := parseSnapshotHeader(snap.data)
	if err != nil {
		return nil, &Error{Image: appPath, Reason: err.Error()}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if enginePath == "" {
		return nil, &Error{Image: appPath, Reason: "no engine image to read the Dart version from"}
	}
	engine, err := os.ReadFile(enginePath)
	if err != nil {
		return nil, &Error{Image: enginePath, Reason: "cannot read engine image", Err: err}
	}

	m := engineVersionPattern.FindSubmatch(engine)
	if m == nil {
		return nil, &Error{Image: enginePath, Reason: "no Dart version banner found"}
	}

	info := &Info{
		Version:      string(m[1]),
		SnapshotHash: hash,
		Flags:        flags,
		OS:           string(m[2]),
		Arch:         string(m[3]),
	}

	if !knownOS[info.OS] || !knownArch[info.Arch] {
		featOS, featArch := targetFromFeatures(flags)
		if featOS == "" {
			featOS = snap.defaultOS
		}
		if featArch == "" {
			featArch = snap.arch
		}
		info.OS, info.Arch = featOS, featArch
	}
	if info.OS == "" || info.Arch == "" {
		return nil, &Error{Image: appPath, Reason: "cannot determine target os and architecture"}
	}

	p.logger.Info("Probed Dart metadata",
		zap.String("version", info.Version),
		zap.String("snapshot_hash", info.SnapshotHash),
		zap.String("os", info.OS),
		zap.String("arch", info.Arch),
		zap.Strings("flags", info.Flags))
	return info, nil
}

type snapshotBytes struct {
	data []byte
	// arch and defaultOS come from the container format.
	arch      string
	defaultOS string
}

func readSnapshot(path string) (*snapshotBytes, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &Error{Image: path, Reason: "cannot open image", Err: err}
	}
	defer f.Close()

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return nil, &Error{Image: path, Reason: "image too small", Err: err}
	}

	switch {
	case bytes.Equal(magic[:], []byte(elf.ELFMAG)):
		return readELFSnapshot(f, path)
	case isMachO(magic):
		return readMachOSnapshot(f, path)
	default:
		return nil, &Error{Image: path, Reason: "not an ELF or Mach-O image"}
	}
}

func isMachO(magic [4]byte) bool {
	m := binary.LittleEndian.Uint32(magic[:])
	return m == macho.Magic64 || m == macho.Magic32
}

func readELFSnapshot(r io.ReaderAt, path string) (*snapshotBytes, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, &Error{Image: path, Reason: "invalid ELF image", Err: err}
	}
	defer f.Close()

	sym, err := findELFSymbol(f, snapshotSymbol)
	if err != nil {
		return nil, &Error{Image: path, Reason: "missing " + snapshotSymbol + " symbol", Err: err}
	}
	if int(sym.Section) <= 0 || int(sym.Section) >= len(f.Sections) {
		return nil, &Error{Image: path, Reason: snapshotSymbol + " is not defined in a section"}
	}
	sec := f.Sections[sym.Section]

	data, err := readAt(sec, sym.Value-sec.Addr, sym.Size, sec.Size)
	if err != nil {
		return nil, &Error{Image: path, Reason: "cannot read snapshot data", Err: err}
	}
	return &snapshotBytes{data: data, arch: elfArch(f.Machine), defaultOS: "android"}, nil
}

func findELFSymbol(f *elf.File, name string) (elf.Symbol, error) {
	var firstErr error
	for _, load := range []func() ([]elf.Symbol, error){f.DynamicSymbols, f.Symbols} {
		syms, err := load()
		if err != nil {
			if firstErr == nil && !errors.Is(err, elf.ErrNoSymbols) {
				firstErr = err
			}
			continue
		}
		for _, s := range syms {
			if s.Name == name {
				return s, nil
			}
		}
	}
	if firstErr != nil {
		return elf.Symbol{}, firstErr
	}
	return elf.Symbol{}, fmt.Errorf("symbol %s not found", name)
}

func readMachOSnapshot(r io.ReaderAt, path string) (*snapshotBytes, error) {
	f, err := macho.NewFile(r)
	if err != nil {
		return nil, &Error{Image: path, Reason: "invalid Mach-O image", Err: err}
	}
	defer f.Close()

	if f.Symtab == nil {
		return nil, &Error{Image: path, Reason: "Mach-O image has no symbol table"}
	}

	for _, s := range f.Symtab.Syms {
		// C symbols carry an extra leading underscore in Mach-O.
		if s.Name != "_"+snapshotSymbol && s.Name != snapshotSymbol {
			continue
		}
		if s.Sect == 0 || int(s.Sect) > len(f.Sections) {
			break
		}
		sec := f.Sections[s.Sect-1]
		data, err := readAt(sec, s.Value-sec.Addr, 0, sec.Size)
		if err != nil {
			return nil, &Error{Image: path, Reason: "cannot read snapshot data", Err: err}
		}
		return &snapshotBytes{data: data, arch: machoArch(f.Cpu), defaultOS: "ios"}, nil
	}

	return nil, &Error{Image: path, Reason: "missing " + snapshotSymbol + " symbol"}
}

// readAt reads size bytes at off from r, or up to snapshotReadLimit bytes
// bounded by limit when size is unknown.
func readAt(r io.ReaderAt, off, size, limit uint64) ([]byte, error) {
	if off > limit {
		return nil, fmt.Errorf("offset %#x outside section of size %#x", off, limit)
	}
	if size == 0 || size > snapshotReadLimit {
		size = snapshotReadLimit
	}
	if off+size > limit {
		size = limit - off
	}

	buf := make([]byte, size)
	n, err := r.ReadAt(buf, int64(off))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}

// parseSnapshotHeader validates the snapshot magic and returns the snapshot
// hash and the feature tokens.
func parseSnapshotHeader(data []byte) (string, []string, error) {
	if len(data) < snapshotHeaderSize+snapshotHashSize {
		return "", nil, fmt.Errorf("snapshot data too short (%d bytes)", len(data))
	}
	if magic := binary.LittleEndian.Uint32(data); magic != snapshotMagic {
		return "", nil, fmt.Errorf("bad snapshot magic %#x", magic)
	}

	hash := string(data[snapshotHeaderSize : snapshotHeaderSize+snapshotHashSize])
	if _, err := hex.DecodeString(hash); err != nil {
		return "", nil, fmt.Errorf("snapshot hash %q is not hex", hash)
	}

	rest := data[snapshotHeaderSize+snapshotHashSize:]
	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		return "", nil, errors.New("unterminated snapshot features string")
	}
	flags := strings.Fields(string(rest[:end]))
	return hash, flags, nil
}

func targetFromFeatures(flags []string) (osName, arch string) {
	for _, f := range flags {
		switch {
		case knownOS[f] && osName == "":
			osName = f
		case knownArch[f] && arch == "":
			arch = f
		}
	}
	return osName, arch
}

func elfArch(m elf.Machine) string {
	switch m {
	case elf.EM_AARCH64:
		return "arm64"
	case elf.EM_ARM:
		return "arm"
	case elf.EM_X86_64:
		return "x64"
	case elf.EM_386:
		return "ia32"
	case elf.EM_RISCV:
		return "riscv64"
	}
	return ""
}

func machoArch(c macho.Cpu) string {
	switch c {
	case macho.CpuArm64:
		return "arm64"
	case macho.CpuArm:
		return "arm"
	case macho.CpuAmd64:
		return "x64"
	}
	return ""
}
