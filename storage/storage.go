package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/permafrostdb/permafrost/gologger"
	"github.com/permafrostdb/permafrost/schema"
	"github.com/permafrostdb/permafrost/ttl"
)

var (
	logger = gologger.NewLogger()

	ErrReservationFailed = errors.New("cannot reserve space on storage policy")
)

type (
	// Disk is one local directory tree parts are written into, optionally
	// S3-backed for cold volumes. Capacity 0 means unbounded.
	Disk struct {
		Name          string
		Path          string
		CapacityBytes int64
		S3            *S3Backing

		reserved int64
	}

	// Volume is an ordered group of disks.
	Volume struct {
		Name  string
		Disks []*Disk
	}

	// Policy is the table's ordered volume list. Volume 0 is the default
	// destination.
	Policy struct {
		Name    string
		Volumes []*Volume
	}

	// Reservation holds claimed bytes on one disk until released.
	Reservation struct {
		disk     *Disk
		Size     int64
		released int32
	}
)

func (d *Disk) Reserve(size int64) (*Reservation, error) {
	for {
		cur := atomic.LoadInt64(&d.reserved)
		if d.CapacityBytes > 0 && cur+size > d.CapacityBytes {
			return nil, fmt.Errorf("%w: disk %s has %d unreserved bytes, need %d", ErrReservationFailed, d.Name, d.CapacityBytes-cur, size)
		}
		if atomic.CompareAndSwapInt64(&d.reserved, cur, cur+size) {
			return &Reservation{disk: d, Size: size}, nil
		}
	}
}

// FullPath resolves a path relative to the disk root.
func (d *Disk) FullPath(rel string) string {
	return filepath.Join(d.Path, rel)
}

func (r *Reservation) Disk() *Disk {
	return r.disk
}

func (r *Reservation) Release() {
	if atomic.CompareAndSwapInt32(&r.released, 0, 1) {
		atomic.AddInt64(&r.disk.reserved, -r.Size)
	}
}

func (v *Volume) Reserve(size int64) (*Reservation, error) {
	for _, d := range v.Disks {
		res, err := d.Reserve(size)
		if err == nil {
			return res, nil
		}
	}
	return nil, fmt.Errorf("%w: no disk on volume %s fits %d bytes", ErrReservationFailed, v.Name, size)
}

func (p *Policy) Volume(i int) *Volume {
	return p.Volumes[i]
}

func (p *Policy) VolumeByName(name string) *Volume {
	for _, v := range p.Volumes {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// Reserve claims size bytes on the first volume that fits.
func (p *Policy) Reserve(size int64) (*Reservation, error) {
	for _, v := range p.Volumes {
		res, err := v.Reserve(size)
		if err == nil {
			return res, nil
		}
	}
	return nil, fmt.Errorf("%w: no volume fits %d bytes", ErrReservationFailed, size)
}

// ReserveSpacePreferringTTLRules picks the destination volume for a new part.
// An expired move-TTL entry (max <= now) redirects the part to the entry's
// destination volume; otherwise the first volume with space wins, falling
// back to volume 0.
func (p *Policy) ReserveSpacePreferringTTLRules(meta *schema.Metadata, size int64, moveTTLs ttl.PartInfos, now int64) (*Reservation, error) {
	for _, entry := range meta.MoveTTLs {
		info, ok := moveTTLs.MovesTTL[entry.Expression.ResultName()]
		if !ok || info.Max == 0 || info.Max > now {
			continue
		}
		v := p.VolumeByName(entry.Destination)
		if v == nil {
			logger.Warn().Str("destination", entry.Destination).Msg("move TTL destination volume not in storage policy")
			continue
		}
		res, err := v.Reserve(size)
		if err == nil {
			return res, nil
		}
		logger.Warn().Str("volume", v.Name).Int64("bytes", size).Msg("cannot reserve on move TTL destination, trying other volumes")
	}

	res, err := p.Reserve(size)
	if err == nil {
		return res, nil
	}
	return p.Volume(0).Reserve(size)
}

// DefaultPolicy is a single unbounded local volume rooted at dataDir.
func DefaultPolicy(dataDir string) *Policy {
	return &Policy{
		Name: "default",
		Volumes: []*Volume{
			{Name: "default", Disks: []*Disk{{Name: "default", Path: filepath.Join(dataDir, "default")}}},
		},
	}
}
