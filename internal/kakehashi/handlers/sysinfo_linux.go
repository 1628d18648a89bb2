//go:build linux

package handlers

import "golang.org/x/sys/unix"

func readHostStats() hostStats {
	var st hostStats
	var uts unix.Utsname
	if err := unix.Uname(&uts); err == nil {
		st.release = unix.ByteSliceToString(uts.Release[:])
	}
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err == nil {
		unit := uint64(si.Unit)
		if unit == 0 {
			unit = 1
		}
		st.uptime = int64(si.Uptime)
		st.memTotal = uint64(si.Totalram) * unit
		st.memFree = uint64(si.Freeram) * unit
	}
	return st
}
