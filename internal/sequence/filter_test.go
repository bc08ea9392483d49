package sequence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/blesink/internal/model"
	"github.com/srg/blesink/internal/registry"
	"github.com/srg/blesink/internal/sequence"
	"github.com/srg/blesink/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		last    uint16
		hasLast bool
		seq     uint16
		want    sequence.Verdict
	}{
		{name: "first reading", hasLast: false, seq: 500, want: sequence.Admitted},
		{name: "first reading at zero", hasLast: false, seq: 0, want: sequence.Admitted},
		{name: "next in order", last: 10, hasLast: true, seq: 11, want: sequence.Admitted},
		{name: "gap forward", last: 10, hasLast: true, seq: 9000, want: sequence.Admitted},
		{name: "repeat", last: 10, hasLast: true, seq: 10, want: sequence.Duplicate},
		{name: "one behind", last: 10, hasLast: true, seq: 9, want: sequence.OutOfOrder},
		{name: "just under half behind", last: 40000, hasLast: true, seq: 40000 - 32767, want: sequence.OutOfOrder},
		{name: "exactly half behind", last: 40000, hasLast: true, seq: 40000 - 32768, want: sequence.Wraparound},
		{name: "counter wrapped", last: 65535, hasLast: true, seq: 0, want: sequence.Wraparound},
		{name: "wrapped with losses", last: 65000, hasLast: true, seq: 20, want: sequence.Wraparound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sequence.Classify(tt.last, tt.hasLast, tt.seq))
		})
	}
}

func TestVerdict_Forwarded(t *testing.T) {
	assert.True(t, sequence.Admitted.Forwarded())
	assert.True(t, sequence.Wraparound.Forwarded())
	assert.False(t, sequence.Duplicate.Forwarded())
	assert.False(t, sequence.OutOfOrder.Forwarded())
	assert.Equal(t, "out_of_order", sequence.OutOfOrder.String())
}

type FilterTestSuite struct {
	suite.Suite
	ctx      context.Context
	registry *registry.Registry
	filter   *sequence.Filter
	id       model.DeviceID
	now      time.Time
}

func (suite *FilterTestSuite) SetupTest() {
	helper := testutils.NewTestHelper(suite.T())
	suite.ctx = context.Background()
	suite.now = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

	reg, err := registry.New(suite.ctx, registry.NewMemoryStore(), nil, helper.Logger)
	suite.Require().NoError(err)
	suite.registry = reg
	suite.filter = sequence.NewFilter(reg, helper.Logger)

	suite.id, err = reg.Resolve(suite.ctx, model.Address{0xCB, 0xB8, 0x33, 0x4C, 0x88, 0x4F}, suite.now)
	suite.Require().NoError(err)
}

func (suite *FilterTestSuite) reading(seq uint16) model.SensorReading {
	suite.now = suite.now.Add(time.Second)
	return model.SensorReading{DeviceID: suite.id, Sequence: seq, Timestamp: suite.now}
}

func (suite *FilterTestSuite) admit(seq uint16) (sequence.Verdict, model.SensorReading) {
	v, r, err := suite.filter.Admit(suite.ctx, suite.reading(seq))
	suite.Require().NoError(err)
	return v, r
}

func (suite *FilterTestSuite) lastSequence() uint16 {
	rec, ok := suite.registry.Lookup(suite.id)
	suite.Require().True(ok)
	return rec.LastSequence
}

func (suite *FilterTestSuite) TestStrictlyIncreasingAreAllAdmitted() {
	for _, seq := range []uint16{0, 1, 2, 7, 100, 30000, 65534, 65535} {
		v, r := suite.admit(seq)
		suite.Equal(sequence.Admitted, v, "sequence %d MUST be admitted", seq)
		suite.False(r.Wraparound)
	}
	suite.Equal(uint64(8), suite.filter.Stats().Admitted)
}

func (suite *FilterTestSuite) TestDuplicatesAreDroppedWithoutStateChange() {
	suite.admit(42)
	for i := 0; i < 3; i++ {
		v, _ := suite.admit(42)
		suite.Equal(sequence.Duplicate, v)
	}
	suite.Equal(uint16(42), suite.lastSequence())
	suite.Equal(uint64(3), suite.filter.Stats().Duplicate)
}

func (suite *FilterTestSuite) TestOutOfOrderKeepsHighWaterMark() {
	suite.admit(100)
	v, _ := suite.admit(99)
	suite.Equal(sequence.OutOfOrder, v)
	suite.Equal(uint16(100), suite.lastSequence(), "late reading MUST NOT move the high-water mark")

	v, _ = suite.admit(101)
	suite.Equal(sequence.Admitted, v)
}

func (suite *FilterTestSuite) TestWraparound() {
	suite.admit(65535)

	v, r := suite.admit(0)
	suite.Equal(sequence.Wraparound, v)
	suite.True(r.Wraparound, "wrapped reading MUST be flagged")
	suite.Equal(uint16(0), suite.lastSequence(), "registry MUST follow the wrapped counter")

	v, r = suite.admit(1)
	suite.Equal(sequence.Admitted, v)
	suite.False(r.Wraparound)
	suite.Equal(uint64(1), suite.filter.Stats().Wraparound)
}

func (suite *FilterTestSuite) TestAdmitUnknownDevice() {
	v, _, err := suite.filter.Admit(suite.ctx, model.SensorReading{DeviceID: "missing"})
	suite.Error(err)
	suite.Equal(sequence.Unregistered, v)
	suite.False(v.Forwarded(), "readings of unknown devices MUST NOT be forwarded")
	suite.Equal(uint64(1), suite.filter.Stats().Unregistered)
}

// failingStore fails the next UpdateLastSeen calls.
type failingStore struct {
	*registry.MemoryStore
	failures int
}

func (s *failingStore) UpdateLastSeen(ctx context.Context, id model.DeviceID, seq uint16, ts time.Time) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("disk I/O error")
	}
	return s.MemoryStore.UpdateLastSeen(ctx, id, seq, ts)
}

func (suite *FilterTestSuite) TestStoreFailureStillAdvancesHighWaterMark() {
	store := &failingStore{MemoryStore: registry.NewMemoryStore()}
	reg, err := registry.New(suite.ctx, store, nil, nil)
	suite.Require().NoError(err)
	suite.registry = reg
	suite.filter = sequence.NewFilter(reg, nil)
	suite.id, err = reg.Resolve(suite.ctx, model.Address{0xD1, 0x02, 0x03, 0x04, 0x05, 0x06}, suite.now)
	suite.Require().NoError(err)

	suite.admit(10)

	store.failures = 1
	v, _, err := suite.filter.Admit(suite.ctx, suite.reading(12))
	suite.Error(err)
	suite.Equal(sequence.Admitted, v, "a persistence failure MUST NOT change the verdict")
	suite.Equal(uint16(12), suite.lastSequence())

	v, _ = suite.admit(11)
	suite.Equal(sequence.OutOfOrder, v, "a late reading after a failed persist MUST still be rejected")
	suite.Equal(uint64(2), suite.filter.Stats().Admitted)
}

func TestFilterTestSuite(t *testing.T) {
	suite.Run(t, new(FilterTestSuite))
}
