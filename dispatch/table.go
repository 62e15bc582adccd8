package dispatch

// Syscall numbers. Ids are ABI: once assigned they are never reused.
// Each hundred-block is reserved for one category (see CategoryOf).
const (
	// File and I/O: 0-99.
	SysFileOpen  uint32 = 0
	SysFileClose uint32 = 1
	SysFileRead  uint32 = 2
	SysFileWrite uint32 = 3
	SysFileSeek  uint32 = 4
	SysFileStat  uint32 = 5
	SysDirCreate uint32 = 10
	SysDirRead   uint32 = 11

	// Process management: 100-199.
	SysProcCreate  uint32 = 100
	SysProcExit    uint32 = 101
	SysProcWait    uint32 = 102
	SysProcGetPID  uint32 = 103
	SysProcGetPPID uint32 = 104

	// Thread management: 200-299.
	SysThreadCreate  uint32 = 200
	SysThreadExit    uint32 = 201
	SysThreadJoin    uint32 = 202
	SysThreadYield   uint32 = 203
	SysThreadGetTID  uint32 = 204
	SysThreadSetPrio uint32 = 205
	SysThreadGetPrio uint32 = 206

	// Memory management: 300-399.
	SysMemAlloc   uint32 = 300
	SysMemFree    uint32 = 301
	SysMemMap     uint32 = 302
	SysMemUnmap   uint32 = 303
	SysMemProtect uint32 = 304

	// Extended file operations: 400-499.
	SysFileLock     uint32 = 400
	SysFileUnlock   uint32 = 401
	SysFileTruncate uint32 = 402
	SysFileDup      uint32 = 403
	SysFileChmod    uint32 = 404
	SysFileRename   uint32 = 405
	SysFileRemove   uint32 = 406

	// System information: 500-599.
	SysInfoSystem uint32 = 500
	SysInfoTime   uint32 = 501
	SysInfoMemory uint32 = 502
	SysInfoCPU    uint32 = 503
	SysInfoUptime uint32 = 504

	// Security and access control: 600-699.
	SysSecCheck   uint32 = 600
	SysSecSetPerm uint32 = 601
	SysSecAudit   uint32 = 602

	// Debug and profiling: 700-799.
	SysDebugBreak     uint32 = 700
	SysProfilingStart uint32 = 701
	SysProfilingStop  uint32 = 702
	SysTraceMarker    uint32 = 703
)

const (
	maxPathLen = 4096
	maxPrio    = 99
)

// DefaultTable is the startup descriptor table. Argument layouts follow
// the conventional register packing: buffers travel as (ptr, len)
// pairs, paths as terminator-scanned strings.
func DefaultTable() []Descriptor {
	return []Descriptor{
		{
			ID:   SysFileOpen,
			Name: "file_open",
			Args: []ArgSpec{
				Str("path", maxPathLen),
				Int("flags", 0, 0xFFFF),
				Int("mode", 0, 0o7777),
			},
			RequiredCaps: CapFileRead,
		},
		{
			ID:           SysFileClose,
			Name:         "file_close",
			Args:         []ArgSpec{FD("fd")},
			RequiredCaps: CapFileRead,
		},
		{
			ID:   SysFileRead,
			Name: "file_read",
			Args: []ArgSpec{
				FD("fd"),
				BufPtr("buf", 2, true),
				Int("count", 0, 1<<30),
			},
			RequiredCaps: CapFileRead,
		},
		{
			ID:   SysFileWrite,
			Name: "file_write",
			Args: []ArgSpec{
				FD("fd"),
				BufPtr("buf", 2, false),
				Int("count", 0, 1<<30),
			},
			RequiredCaps: CapFileWrite,
		},
		{
			ID:   SysFileSeek,
			Name: "file_seek",
			Args: []ArgSpec{
				FD("fd"),
				Int("offset", 0, 1<<62),
				Int("whence", 0, 2),
			},
			RequiredCaps: CapFileRead,
		},
		{
			ID:   SysFileStat,
			Name: "file_stat",
			Args: []ArgSpec{
				FD("fd"),
				OutPtr("statbuf", 128),
			},
			RequiredCaps: CapFileRead,
		},
		{
			ID:   SysDirCreate,
			Name: "dir_create",
			Args: []ArgSpec{
				Str("path", maxPathLen),
				Int("mode", 0, 0o7777),
			},
			RequiredCaps: CapFileWrite,
		},
		{
			ID:   SysDirRead,
			Name: "dir_read",
			Args: []ArgSpec{
				FD("fd"),
				BufPtr("entries", 2, true),
				Int("count", 0, 1<<20),
			},
			RequiredCaps: CapFileRead,
		},

		{
			ID:   SysProcCreate,
			Name: "proc_create",
			Args: []ArgSpec{
				Str("path", maxPathLen),
				Ptr("argv", 8),
			},
			RequiredCaps: CapProcControl,
		},
		{
			ID:           SysProcExit,
			Name:         "proc_exit",
			Args:         []ArgSpec{Int("status", 0, 255)},
			RequiredCaps: CapProcControl,
		},
		{
			ID:           SysProcWait,
			Name:         "proc_wait",
			Args:         []ArgSpec{Int("pid", 0, 1<<22), OutPtr("status", 4)},
			RequiredCaps: CapProcControl,
		},
		{ID: SysProcGetPID, Name: "proc_getpid", FastPath: true},
		{ID: SysProcGetPPID, Name: "proc_getppid", FastPath: true},

		{
			ID:   SysThreadCreate,
			Name: "thread_create",
			Args: []ArgSpec{
				Ptr("entry", 8),
				Ptr("stack", 8),
			},
			RequiredCaps: CapThreadControl,
		},
		{
			ID:           SysThreadExit,
			Name:         "thread_exit",
			Args:         []ArgSpec{Int("status", 0, 255)},
			RequiredCaps: CapThreadControl,
		},
		{
			ID:           SysThreadJoin,
			Name:         "thread_join",
			Args:         []ArgSpec{Int("tid", 0, 1<<22)},
			RequiredCaps: CapThreadControl,
		},
		{ID: SysThreadYield, Name: "thread_yield", FastPath: true},
		{ID: SysThreadGetTID, Name: "thread_gettid", FastPath: true},
		{
			ID:           SysThreadSetPrio,
			Name:         "thread_set_priority",
			Args:         []ArgSpec{Int("tid", 0, 1<<22), Int("prio", 0, maxPrio)},
			RequiredCaps: CapThreadControl,
		},
		{
			ID:           SysThreadGetPrio,
			Name:         "thread_get_priority",
			Args:         []ArgSpec{Int("tid", 0, 1<<22)},
			RequiredCaps: CapThreadControl,
		},

		{
			ID:           SysMemAlloc,
			Name:         "mem_alloc",
			Args:         []ArgSpec{Int("size", 1, 1<<32), Int("flags", 0, 0xFF)},
			RequiredCaps: CapMemControl,
		},
		{
			ID:           SysMemFree,
			Name:         "mem_free",
			Args:         []ArgSpec{Int("addr", 0, KernelBase - 1), Int("size", 1, 1 << 32)},
			RequiredCaps: CapMemControl,
		},
		{
			ID:           SysMemMap,
			Name:         "mem_map",
			Args:         []ArgSpec{Int("addr", 0, KernelBase - 1), Int("size", 1, 1<<32), Int("prot", 0, 7)},
			RequiredCaps: CapMemControl,
		},
		{
			ID:           SysMemUnmap,
			Name:         "mem_unmap",
			Args:         []ArgSpec{Int("addr", 1, KernelBase - 1), Int("size", 1, 1<<32)},
			RequiredCaps: CapMemControl,
		},
		{
			ID:           SysMemProtect,
			Name:         "mem_protect",
			Args:         []ArgSpec{Int("addr", 1, KernelBase - 1), Int("size", 1, 1<<32), Int("prot", 0, 7)},
			RequiredCaps: CapMemControl,
		},

		{
			ID:           SysFileLock,
			Name:         "file_lock",
			Args:         []ArgSpec{FD("fd"), Int("type", 0, 2), Int("start", 0, 1<<62), Int("len", 0, 1<<62)},
			RequiredCaps: CapFileWrite,
		},
		{
			ID:           SysFileUnlock,
			Name:         "file_unlock",
			Args:         []ArgSpec{FD("fd"), Int("start", 0, 1<<62), Int("len", 0, 1<<62)},
			RequiredCaps: CapFileWrite,
		},
		{
			ID:           SysFileTruncate,
			Name:         "file_truncate",
			Args:         []ArgSpec{FD("fd"), Int("length", 0, 1<<62)},
			RequiredCaps: CapFileWrite,
		},
		{
			ID:           SysFileDup,
			Name:         "file_dup",
			Args:         []ArgSpec{FD("fd")},
			RequiredCaps: CapFileRead,
		},
		{
			ID:           SysFileChmod,
			Name:         "file_chmod",
			Args:         []ArgSpec{Str("path", maxPathLen), Int("mode", 0, 0o7777)},
			RequiredCaps: CapFileWrite,
		},
		{
			ID:           SysFileRename,
			Name:         "file_rename",
			Args:         []ArgSpec{Str("old", maxPathLen), Str("new", maxPathLen)},
			RequiredCaps: CapFileWrite,
		},
		{
			ID:           SysFileRemove,
			Name:         "file_remove",
			Args:         []ArgSpec{Str("path", maxPathLen)},
			RequiredCaps: CapFileWrite,
		},

		{
			ID:           SysInfoSystem,
			Name:         "sysinfo_system",
			Args:         []ArgSpec{OutPtr("info", 256)},
			RequiredCaps: CapSysInfo,
		},
		{ID: SysInfoTime, Name: "sysinfo_time", FastPath: true},
		{
			ID:           SysInfoMemory,
			Name:         "sysinfo_memory",
			Args:         []ArgSpec{OutPtr("stats", 128)},
			RequiredCaps: CapSysInfo,
		},
		{
			ID:           SysInfoCPU,
			Name:         "sysinfo_cpu",
			Args:         []ArgSpec{OutPtr("info", 128)},
			RequiredCaps: CapSysInfo,
		},
		{ID: SysInfoUptime, Name: "sysinfo_uptime", FastPath: true},

		{
			ID:           SysSecCheck,
			Name:         "sec_check",
			Args:         []ArgSpec{Int("capability", 0, 63)},
			RequiredCaps: CapSecurityAdmin,
		},
		{
			ID:           SysSecSetPerm,
			Name:         "sec_set_permission",
			Args:         []ArgSpec{Str("path", maxPathLen), Int("mode", 0, 0o7777)},
			RequiredCaps: CapSecurityAdmin,
			KernelOnly:   true,
		},
		{
			ID:           SysSecAudit,
			Name:         "sec_audit",
			Args:         []ArgSpec{BufPtr("msg", 1, false), Int("len", 0, 4096)},
			RequiredCaps: CapSecurityAdmin,
		},

		{
			ID:           SysDebugBreak,
			Name:         "debug_breakpoint",
			Args:         []ArgSpec{Ptr("addr", 8)},
			RequiredCaps: CapDebug,
			KernelOnly:   true,
		},
		{
			ID:           SysProfilingStart,
			Name:         "profiling_start",
			Args:         []ArgSpec{Int("target", 0, 1<<22)},
			RequiredCaps: CapDebug,
		},
		{
			ID:           SysProfilingStop,
			Name:         "profiling_stop",
			Args:         []ArgSpec{Int("target", 0, 1<<22)},
			RequiredCaps: CapDebug,
		},
		{
			ID:           SysTraceMarker,
			Name:         "trace_marker",
			Args:         []ArgSpec{Str("marker", 256)},
			RequiredCaps: CapDebug,
		},
	}
}
