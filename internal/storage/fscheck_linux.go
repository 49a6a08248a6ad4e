//go:build linux

package storage

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// statfs f_type values for the network filesystems isNetworkMount knows.
var linuxNetworkMagic = map[int64]string{
	unix.NFS_SUPER_MAGIC: "nfs",
	unix.SMB_SUPER_MAGIC: "smbfs",
	0xFF534D42:           "cifs",
	0xFE534D42:           "smb2",
}

func filesystemType(path string) (string, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return "", fmt.Errorf("statfs %q: %w", path, err)
	}
	magic := int64(st.Type)
	if name, ok := linuxNetworkMagic[magic]; ok {
		return name, nil
	}
	return fmt.Sprintf("0x%x", magic), nil
}
