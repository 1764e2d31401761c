package storage

import (
	"testing"

	"github.com/permafrostdb/permafrost/expr"
	"github.com/permafrostdb/permafrost/schema"
	"github.com/permafrostdb/permafrost/ttl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exprFor(column string) expr.Expr {
	return expr.Expr{Column: column}
}

func twoVolumePolicy() *Policy {
	return &Policy{
		Name: "tiered",
		Volumes: []*Volume{
			{Name: "hot", Disks: []*Disk{{Name: "ssd", Path: "/data/ssd", CapacityBytes: 1000}}},
			{Name: "cold", Disks: []*Disk{{Name: "hdd", Path: "/data/hdd"}}},
		},
	}
}

func TestDiskReserveTracksCapacity(t *testing.T) {
	d := &Disk{Name: "ssd", Path: "/data/ssd", CapacityBytes: 100}

	r1, err := d.Reserve(60)
	require.NoError(t, err)

	_, err = d.Reserve(60)
	require.ErrorIs(t, err, ErrReservationFailed)

	r1.Release()
	r2, err := d.Reserve(60)
	require.NoError(t, err)
	r2.Release()

	// double release does not underflow
	r1.Release()
	r3, err := d.Reserve(100)
	require.NoError(t, err)
	r3.Release()
}

func TestPolicyReserveFirstFit(t *testing.T) {
	p := twoVolumePolicy()
	res, err := p.Reserve(500)
	require.NoError(t, err)
	assert.Equal(t, "ssd", res.Disk().Name)
	res.Release()

	// too big for the hot volume, spills to cold
	res, err = p.Reserve(5000)
	require.NoError(t, err)
	assert.Equal(t, "hdd", res.Disk().Name)
	res.Release()
}

func TestReservePreferringTTLRules(t *testing.T) {
	p := twoVolumePolicy()
	meta := &schema.Metadata{
		MoveTTLs: []schema.TTLDescription{
			{Expression: exprFor("ts"), Destination: "cold"},
		},
	}

	// expired move TTL sends the part to the cold volume
	moveInfos := ttl.PartInfos{MovesTTL: map[string]ttl.Info{"ts": {Min: 100, Max: 200}}}
	res, err := p.ReserveSpacePreferringTTLRules(meta, 10, moveInfos, 1000)
	require.NoError(t, err)
	assert.Equal(t, "hdd", res.Disk().Name)
	res.Release()

	// not expired yet, first volume with space wins
	moveInfos = ttl.PartInfos{MovesTTL: map[string]ttl.Info{"ts": {Min: 5000, Max: 6000}}}
	res, err = p.ReserveSpacePreferringTTLRules(meta, 10, moveInfos, 1000)
	require.NoError(t, err)
	assert.Equal(t, "ssd", res.Disk().Name)
	res.Release()

	// unknown destination volumes are skipped, not fatal
	meta.MoveTTLs[0].Destination = "archive"
	moveInfos = ttl.PartInfos{MovesTTL: map[string]ttl.Info{"ts": {Min: 100, Max: 200}}}
	res, err = p.ReserveSpacePreferringTTLRules(meta, 10, moveInfos, 1000)
	require.NoError(t, err)
	assert.Equal(t, "ssd", res.Disk().Name)
	res.Release()
}

func TestReserveFailureSurfaces(t *testing.T) {
	p := &Policy{
		Name: "small",
		Volumes: []*Volume{
			{Name: "only", Disks: []*Disk{{Name: "tiny", Path: "/data/tiny", CapacityBytes: 10}}},
		},
	}
	_, err := p.ReserveSpacePreferringTTLRules(&schema.Metadata{}, 100, ttl.PartInfos{}, 0)
	require.ErrorIs(t, err, ErrReservationFailed)
}
