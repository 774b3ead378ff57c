package dumpproc

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/windows"

	"cof/internal/dump"
)

// MEM_PRIVATE memory type reported by VirtualQueryEx.
const memPrivate = 0x20000

// Producer reads a live process through the Win32 debug APIs and
// writes region-mode dump files.
type Producer struct {
	log  *log.Logger
	pid  uint32
	proc windows.Handle
	base uint64
}

// New returns an unattached producer.
func New(logger *log.Logger) *Producer {
	if logger == nil {
		logger = log.Default()
	}
	return &Producer{log: logger}
}

// Attach opens the target process and records its image base. A
// previous attachment is released first.
func (p *Producer) Attach(pid uint32) error {
	if pid == 0 {
		return errors.New("pid 0 is not a valid target")
	}
	enableDebugPrivilege(p.log)

	h, err := windows.OpenProcess(windows.PROCESS_QUERY_INFORMATION|windows.PROCESS_VM_READ, false, pid)
	if err != nil {
		return fmt.Errorf("open process %d: %w", pid, err)
	}
	base, err := imageBase(h)
	if err != nil {
		windows.CloseHandle(h)
		return fmt.Errorf("image base of process %d: %w", pid, err)
	}
	p.Close()
	p.pid = pid
	p.proc = h
	p.base = base
	p.log.Info("attached to process", "pid", pid, "base", fmt.Sprintf("%#x", base))
	return nil
}

// Close releases the process handle.
func (p *Producer) Close() error {
	if p.proc == 0 {
		return nil
	}
	err := windows.CloseHandle(p.proc)
	p.proc = 0
	return err
}

// Dump walks every committed readable region of the attached process
// and writes them to path in region-mode layout, returning the number
// of regions captured.
func (p *Producer) Dump(path string) (int, error) {
	if p.proc == 0 {
		return 0, errors.New("no process attached")
	}
	regions := p.regions()
	if len(regions) == 0 {
		return 0, errors.New("no readable regions found")
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create dump file: %w", err)
	}
	defer f.Close()

	w, err := dump.NewWriter(f, p.base)
	if err != nil {
		return 0, err
	}
	for _, rg := range regions {
		if err := w.AddRegion(rg); err != nil {
			return 0, err
		}
	}
	buf := make([]byte, chunkSize)
	for _, rg := range regions {
		p.log.Debug("dumping region",
			"begin", fmt.Sprintf("%#x", rg.AddressBegin),
			"end", fmt.Sprintf("%#x", rg.AddressEnd),
			"size", fmt.Sprintf("%#x", rg.Size()))
		for off := uint64(0); off < rg.Size(); off += chunkSize {
			n := rg.Size() - off
			if n > chunkSize {
				n = chunkSize
			}
			chunk := buf[:n]
			p.read(rg.AddressBegin+off, chunk)
			if err := w.WritePayload(chunk); err != nil {
				return 0, err
			}
		}
	}
	if err := w.Finalize(); err != nil {
		return 0, err
	}
	p.log.Info("process dumped", "pid", p.pid, "regions", w.RegionCount(), "path", path)
	return w.RegionCount(), nil
}

// regions walks the committed readable address space. Guard pages are
// skipped; reading one would trip the guard in the target.
func (p *Producer) regions() []dump.Region {
	var (
		out  []dump.Region
		addr uintptr
		mbi  windows.MemoryBasicInformation
	)
	for {
		if err := windows.VirtualQueryEx(p.proc, addr, &mbi, unsafe.Sizeof(mbi)); err != nil {
			break
		}
		base := uintptr(mbi.BaseAddress)
		size := uintptr(mbi.RegionSize)
		if size == 0 {
			break
		}
		if mbi.State == windows.MEM_COMMIT && readable(mbi.Protect) && mbi.Protect&windows.PAGE_GUARD == 0 {
			out = append(out, dump.Region{
				AddressBegin:       uint64(base),
				AddressEnd:         uint64(base) + uint64(size) - 1,
				Protection:         uint64(mbi.Protect),
				PrivateMemory:      mbi.Type == memPrivate,
				InitiallyCommitted: true,
			})
		}
		addr = base + size
		if addr == 0 || addr < base {
			break
		}
	}
	return out
}

// read fills buf from process memory. Anything the target refuses to
// hand over is zeroed so stale buffer content never leaks into the
// dump.
func (p *Producer) read(addr uint64, buf []byte) {
	var done uintptr
	err := windows.ReadProcessMemory(p.proc, uintptr(addr), &buf[0], uintptr(len(buf)), &done)
	if err != nil {
		done = 0
	}
	clear(buf[done:])
}

func readable(protect uint32) bool {
	switch protect & 0xFF {
	case windows.PAGE_READONLY,
		windows.PAGE_READWRITE,
		windows.PAGE_WRITECOPY,
		windows.PAGE_EXECUTE_READ,
		windows.PAGE_EXECUTE_READWRITE,
		windows.PAGE_EXECUTE_WRITECOPY:
		return true
	}
	return false
}

// imageBase resolves the base address of the process's main module,
// the first module its loader lists.
func imageBase(proc windows.Handle) (uint64, error) {
	var module windows.Handle
	var needed uint32
	if err := windows.EnumProcessModules(proc, &module, uint32(unsafe.Sizeof(module)), &needed); err != nil {
		return 0, err
	}
	var mi windows.ModuleInfo
	if err := windows.GetModuleInformation(proc, module, &mi, uint32(unsafe.Sizeof(mi))); err != nil {
		return 0, err
	}
	return uint64(mi.BaseOfDll), nil
}

// Reading another process usually needs SeDebugPrivilege. Failure is
// tolerated; an elevated caller may not need the privilege at all.
func enableDebugPrivilege(logger *log.Logger) {
	var token windows.Token
	err := windows.OpenProcessToken(windows.CurrentProcess(), windows.TOKEN_ADJUST_PRIVILEGES|windows.TOKEN_QUERY, &token)
	if err != nil {
		logger.Debug("open process token", "err", err)
		return
	}
	defer token.Close()

	name, err := windows.UTF16PtrFromString("SeDebugPrivilege")
	if err != nil {
		return
	}
	var luid windows.LUID
	if err := windows.LookupPrivilegeValue(nil, name, &luid); err != nil {
		logger.Debug("lookup debug privilege", "err", err)
		return
	}
	tp := windows.Tokenprivileges{PrivilegeCount: 1}
	tp.Privileges[0] = windows.LUIDAndAttributes{Luid: luid, Attributes: windows.SE_PRIVILEGE_ENABLED}
	if err := windows.AdjustTokenPrivileges(token, false, &tp, 0, nil, nil); err != nil {
		logger.Debug("adjust token privileges", "err", err)
	}
}
