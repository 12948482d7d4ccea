package store

import (
	"io/fs"
	"net/url"
	"strconv"
	"syscall"
)

func addPlatformTags(v url.Values, info fs.FileInfo) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	v.Set("st_mode", strconv.FormatUint(uint64(st.Mode), 10))
	v.Set("st_ino", strconv.FormatUint(uint64(st.Ino), 10))
	v.Set("st_uid", strconv.FormatUint(uint64(st.Uid), 10))
	v.Set("st_gid", strconv.FormatUint(uint64(st.Gid), 10))
	v.Set("st_atime", strconv.FormatInt(st.Atim.Sec, 10))
	v.Set("st_ctime", strconv.FormatInt(st.Ctim.Sec, 10))
}
