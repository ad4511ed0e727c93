package simdb

import (
	"bytes"
	"path/filepath"
	"testing"

	cv "github.com/glycerine/goconvey/convey"
)

func Test501_atomic_create_invisible_until_sync(t *testing.T) {

	cv.Convey("a file opened ATOMIC_WRITE_AND_CREATE lives under name.part until Sync renames it; opening the real name READONLY before Sync raises file_not_found, after Sync it sees the data", t, func() {

		dir := t.TempDir()
		s := NewSimulator(testConfig(51))
		p := s.NewProcess("a", MakeIPv4(10, 0, 0, 1), 1, locality(0), StorageClass, dir, dir)

		name := filepath.Join(dir, "X")
		payload := bytes.Repeat([]byte("k"), 1024)

		var beforeErr error
		var afterSize int64
		var readBack []byte
		s.Spawn(p, func() {
			f, err := s.OpenFile(name,
				OPEN_ATOMIC_WRITE_AND_CREATE|OPEN_CREATE|OPEN_READWRITE, 0644)
			panicOn(err)
			panicOn(f.Write(payload, 0))

			_, beforeErr = s.OpenFile(name, OPEN_READONLY, 0)

			panicOn(f.Sync())

			g, err := s.OpenFile(name, OPEN_READONLY, 0)
			panicOn(err)
			afterSize, err = g.Size()
			panicOn(err)
			readBack = make([]byte, 1024)
			n, err := g.Read(readBack, 0)
			panicOn(err)
			readBack = readBack[:n]
		})
		s.Run()

		cv.So(beforeErr, cv.ShouldEqual, ErrFileNotFound)
		cv.So(afterSize, cv.ShouldEqual, int64(1024))
		cv.So(bytes.Equal(readBack, payload), cv.ShouldBeTrue)
	})
}

func Test502_machine_scoped_open_files_are_shared(t *testing.T) {

	cv.Convey("two processes on the same machine share open file handles through the machine's open-files map", t, func() {

		dir := t.TempDir()
		s := NewSimulator(testConfig(52))
		loc := locality(0)
		p1 := s.NewProcess("a", MakeIPv4(10, 0, 0, 1), 1, loc, StorageClass, dir, dir)
		p2 := s.NewProcess("b", MakeIPv4(10, 0, 0, 1), 2, loc, StorageClass, dir, dir)

		name := filepath.Join(dir, "shared")
		var f1, f2 *SimFile
		s.Spawn(p1, func() {
			var err error
			f1, err = s.OpenFile(name, OPEN_CREATE|OPEN_READWRITE, 0644)
			panicOn(err)
			panicOn(f1.Write([]byte("abc"), 0))
		})
		s.Spawn(p2, func() {
			panicOn(s.Delay(1.0, TaskDefaultDelay))
			var err error
			f2, err = s.OpenFile(name, OPEN_READWRITE, 0)
			panicOn(err)
		})
		s.Run()

		cv.So(f1, cv.ShouldNotBeNil)
		cv.So(f2, cv.ShouldEqual, f1)
		cv.So(p1.Machine, cv.ShouldEqual, p2.Machine)
	})
}

func Test503_durable_delete_hits_the_os(t *testing.T) {

	cv.Convey("DeleteFile with mustBeDurable removes the entry from the machine map and the underlying file before returning", t, func() {

		dir := t.TempDir()
		s := NewSimulator(testConfig(53))
		p := s.NewProcess("a", MakeIPv4(10, 0, 0, 1), 1, locality(0), StorageClass, dir, dir)

		name := filepath.Join(dir, "victim")
		var reopenErr error
		s.Spawn(p, func() {
			f, err := s.OpenFile(name,
				OPEN_ATOMIC_WRITE_AND_CREATE|OPEN_CREATE|OPEN_READWRITE, 0644)
			panicOn(err)
			panicOn(f.Write([]byte("doomed"), 0))
			panicOn(f.Sync())

			panicOn(s.DeleteFile(name, true))
			_, reopenErr = s.OpenFile(name, OPEN_READONLY, 0)
		})
		s.Run()

		cv.So(reopenErr, cv.ShouldEqual, ErrFileNotFound)
		cv.So(p.Machine.OpenFiles.Len(), cv.ShouldEqual, 0)
	})
}

func Test504_disk_model_reserves_time_per_operation(t *testing.T) {

	cv.Convey("each file operation reserves 1/iops + bytes/bandwidth on the per-disk clock, so a burst of writes takes at least the modeled time", t, func() {

		dir := t.TempDir()
		cfg := testConfig(54)
		cfg.ConnectionFailures = "on" // the disk model shortcut only applies when failures are off
		s := NewSimulator(cfg)
		p := s.NewProcess("a", MakeIPv4(10, 0, 0, 1), 1, locality(0), StorageClass, dir, dir)

		const nOps = 50
		var start, end float64
		s.Spawn(p, func() {
			f, err := s.OpenFile(filepath.Join(dir, "burst"),
				OPEN_CREATE|OPEN_READWRITE, 0644)
			panicOn(err)
			start = s.Now()
			buf := make([]byte, 4096)
			for i := range nOps {
				panicOn(f.Write(buf, int64(i*4096)))
			}
			end = s.Now()
		})
		s.Run()

		minModeled := float64(nOps) * (1.0/float64(cfg.DiskIOPS) +
			4096.0/float64(cfg.DiskBandwidth))
		cv.So(end-start, cv.ShouldBeGreaterThanOrEqualTo, minModeled)
	})
}
