package simdb

import (
	"fmt"
)

// simDiskSpace is the per-IP disk ledger. baseFreeSpace is
// the original free space plus deltas from simulated external
// modifications.
type simDiskSpace struct {
	totalSpace    int64
	baseFreeSpace int64
	lastUpdate    float64
}

// GetDiskBytes reports (free, total) for the current
// process's machine. The first query per IP draws the disk
// geometry: total uniform in [5GB, 105GB], base free at least
// 5GB or 7.5% of total (whichever is higher) plus the current
// file footprint. Later queries drift baseFreeSpace by up to
// min(5s, elapsed)*1e6 bytes (x10 under BUGGIFY), modeling
// external writers, clamped so 0 <= free <= total always
// holds.
func (s *Simulator) GetDiskBytes(directory string) (free, total int64) {
	proc := s.current
	ip := proc.Address.IP
	disk, ok := s.diskSpaceMap.get2(ip)
	if !ok {
		disk = &simDiskSpace{}
		s.diskSpaceMap.set(ip, disk)
	}

	var totalFileSize int64
	numFiles := 0
	if proc.Machine != nil {
		for _, f := range proc.Machine.OpenFiles.all() {
			totalFileSize += f.approximateSize
			numFiles++
		}
	}

	if disk.totalSpace == 0 {
		disk.totalSpace = int64(5e9 + s.rng.Float64()*100e9)
		minFree := int64((s.rng.Float64()*(1-.075) + .075) * float64(disk.totalSpace))
		if minFree < 5e9 {
			minFree = 5e9
		}
		disk.baseFreeSpace = minFree + totalFileSize
		if disk.baseFreeSpace > disk.totalSpace {
			disk.baseFreeSpace = disk.totalSpace
		}
		s.Event("Sim2DiskSpaceInitialization",
			"TotalSpace", fmt.Sprint(disk.totalSpace),
			"BaseFreeSpace", fmt.Sprint(disk.baseFreeSpace),
			"TotalFileSize", fmt.Sprint(totalFileSize),
			"NumFiles", fmt.Sprint(numFiles))
	} else {
		elapsed := s.now - disk.lastUpdate
		if elapsed > 5.0 {
			elapsed = 5.0
		}
		scale := 1e6
		if s.buggify() {
			scale = 10e6
		}
		maxDelta := elapsed * scale
		delta := int64(-maxDelta + s.rng.Float64()*maxDelta*2)
		disk.baseFreeSpace += delta
		if disk.baseFreeSpace < totalFileSize {
			disk.baseFreeSpace = totalFileSize
		}
		if disk.baseFreeSpace > disk.totalSpace {
			disk.baseFreeSpace = disk.totalSpace
		}
	}
	disk.lastUpdate = s.now

	total = disk.totalSpace
	free = disk.baseFreeSpace - totalFileSize
	if free < 0 {
		free = 0
	}
	if free == 0 {
		s.EventSev(SevWarnAlways, "Sim2NoFreeSpace",
			"TotalSpace", fmt.Sprint(disk.totalSpace),
			"BaseFreeSpace", fmt.Sprint(disk.baseFreeSpace),
			"TotalFileSize", fmt.Sprint(totalFileSize),
			"NumFiles", fmt.Sprint(numFiles))
	}
	return
}
