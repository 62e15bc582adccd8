package frontend

import (
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/multios-dev/syscore/dispatch"
	"github.com/multios-dev/syscore/syserr"
)

// simState backs the simulation handlers: an in-memory "kernel" with a
// flat file namespace, fd allocation and an allocation counter. It
// exists so a simulated workload exercises the full pipeline with
// realistic success, not-found and resource-pressure outcomes.
type simState struct {
	mu      sync.Mutex
	files   map[string][]byte
	nextFD  int32
	fdPaths map[int32]string
	fdTable *SimFDTable

	allocated atomic.Uint64
	allocCap  uint64

	bootTime time.Time
}

func newSimState(fdTable *SimFDTable, allocCap uint64) *simState {
	return &simState{
		files:    map[string][]byte{},
		nextFD:   3, // 0..2 reserved for the standard streams
		fdPaths:  map[int32]string{},
		fdTable:  fdTable,
		allocCap: allocCap,
		bootTime: time.Now(),
	}
}

// InstallSimHandlers registers an in-memory handler set covering the
// file, process-info, memory and system-info syscalls. Unregistered
// ids surface as unsupported, which is itself a useful workload case.
func InstallSimHandlers(sys *System, fdTable *SimFDTable, allocCap uint64) error {
	st := newSimState(fdTable, allocCap)

	handlers := map[uint32]dispatch.Handler{
		dispatch.SysFileOpen:   st.fileOpen,
		dispatch.SysFileClose:  st.fileClose,
		dispatch.SysFileRead:   st.fileRead,
		dispatch.SysFileWrite:  st.fileWrite,
		dispatch.SysProcGetPID: pidHandler(1),
		dispatch.SysThreadYield: func(*dispatch.Caller, *dispatch.ValidatedArgs) (uint64, syserr.Kind) {
			return 0, syserr.Ok
		},
		dispatch.SysMemAlloc:   st.memAlloc,
		dispatch.SysMemFree:    st.memFree,
		dispatch.SysInfoTime:   st.infoTime,
		dispatch.SysInfoUptime: st.infoUptime,
	}

	for id, h := range handlers {
		if err := sys.RegisterHandler(id, h); err != nil {
			return err
		}
	}

	return nil
}

func pidHandler(pid uint64) dispatch.Handler {
	return func(*dispatch.Caller, *dispatch.ValidatedArgs) (uint64, syserr.Kind) {
		return pid, syserr.Ok
	}
}

func (st *simState) fileOpen(_ *dispatch.Caller, args *dispatch.ValidatedArgs) (uint64, syserr.Kind) {
	path := args.Str(0)
	flags := args.Int(1)

	const flagCreate = 0x40

	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.files[path]; !ok {
		if flags&flagCreate == 0 {
			return 0, syserr.FileNotFound
		}

		st.files[path] = nil
	}

	fd := st.nextFD
	st.nextFD++
	st.fdPaths[fd] = path
	st.fdTable.Add(fd)

	return uint64(fd), syserr.Ok
}

func (st *simState) fileClose(_ *dispatch.Caller, args *dispatch.ValidatedArgs) (uint64, syserr.Kind) {
	fd := args.FD(0)

	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.fdPaths[fd]; !ok {
		return 0, syserr.InvalidArgument
	}

	delete(st.fdPaths, fd)
	st.fdTable.Remove(fd)

	return 0, syserr.Ok
}

func (st *simState) fileRead(_ *dispatch.Caller, args *dispatch.ValidatedArgs) (uint64, syserr.Kind) {
	fd := args.FD(0)
	buf := args.Buf(1)

	st.mu.Lock()
	defer st.mu.Unlock()

	path, ok := st.fdPaths[fd]
	if !ok {
		return 0, syserr.InvalidArgument
	}

	n := copy(buf, st.files[path])

	return uint64(n), syserr.Ok
}

func (st *simState) fileWrite(_ *dispatch.Caller, args *dispatch.ValidatedArgs) (uint64, syserr.Kind) {
	fd := args.FD(0)
	buf := args.Buf(1)

	st.mu.Lock()
	defer st.mu.Unlock()

	path, ok := st.fdPaths[fd]
	if !ok {
		return 0, syserr.InvalidArgument
	}

	st.files[path] = append(st.files[path], buf...)

	return uint64(len(buf)), syserr.Ok
}

func (st *simState) memAlloc(_ *dispatch.Caller, args *dispatch.ValidatedArgs) (uint64, syserr.Kind) {
	size := args.Int(0)

	for {
		cur := st.allocated.Load()
		if cur+size > st.allocCap {
			return 0, syserr.MemoryAllocationFailed
		}

		if st.allocated.CAS(cur, cur+size) {
			return cur, syserr.Ok
		}
	}
}

func (st *simState) memFree(_ *dispatch.Caller, args *dispatch.ValidatedArgs) (uint64, syserr.Kind) {
	size := args.Int(1)

	st.allocated.Sub(size)

	return 0, syserr.Ok
}

func (st *simState) infoTime(*dispatch.Caller, *dispatch.ValidatedArgs) (uint64, syserr.Kind) {
	return uint64(time.Now().Unix()), syserr.Ok
}

func (st *simState) infoUptime(*dispatch.Caller, *dispatch.ValidatedArgs) (uint64, syserr.Kind) {
	return uint64(time.Since(st.bootTime).Seconds()), syserr.Ok
}
