package registry_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/srg/blesink/internal/model"
	"github.com/srg/blesink/internal/registry"
	"github.com/srg/blesink/internal/sqlitedb"
	"github.com/srg/blesink/internal/testutils"
	"github.com/stretchr/testify/suite"
)

var (
	addrA = model.Address{0xCB, 0xB8, 0x33, 0x4C, 0x88, 0x4F}
	addrB = model.Address{0xD1, 0x02, 0x03, 0x04, 0x05, 0x06}
)

type RegistryTestSuite struct {
	suite.Suite
	helper *testutils.TestHelper
	ctx    context.Context
	now    time.Time
}

func (suite *RegistryTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.ctx = context.Background()
	suite.now = time.Date(2026, 10, 17, 8, 30, 0, 0, time.UTC)
}

func (suite *RegistryTestSuite) newSQLiteStore(path string) *registry.SQLiteStore {
	db, err := sqlitedb.Open(suite.ctx, path)
	suite.Require().NoError(err)
	suite.T().Cleanup(func() { _ = db.Close() })

	store, err := registry.NewSQLiteStore(suite.ctx, db)
	suite.Require().NoError(err)
	return store
}

func (suite *RegistryTestSuite) TestResolve_AssignsStableIdentity() {
	reg, err := registry.New(suite.ctx, registry.NewMemoryStore(), nil, suite.helper.Logger)
	suite.Require().NoError(err)

	first, err := reg.Resolve(suite.ctx, addrA, suite.now)
	suite.Require().NoError(err)
	again, err := reg.Resolve(suite.ctx, addrA, suite.now.Add(time.Minute))
	suite.Require().NoError(err)
	other, err := reg.Resolve(suite.ctx, addrB, suite.now)
	suite.Require().NoError(err)

	suite.Equal(first, again, "same address MUST resolve to the same identity")
	suite.NotEqual(first, other)
	suite.Equal(2, reg.Len())

	rec, ok := reg.Lookup(first)
	suite.Require().True(ok)
	suite.Equal(addrA, rec.Address)
	suite.Equal(suite.now, rec.FirstSeen, "first-seen MUST NOT move on later sightings")
	suite.False(rec.HasSequence)
}

func (suite *RegistryTestSuite) TestResolve_AppliesConfiguredNames() {
	names := map[model.Address]string{addrA: "sauna"}
	reg, err := registry.New(suite.ctx, registry.NewMemoryStore(), names, suite.helper.Logger)
	suite.Require().NoError(err)

	id, err := reg.Resolve(suite.ctx, addrA, suite.now)
	suite.Require().NoError(err)
	rec, _ := reg.Lookup(id)
	suite.Equal("sauna", rec.Name)
}

func (suite *RegistryTestSuite) TestUpdate() {
	reg, err := registry.New(suite.ctx, registry.NewMemoryStore(), nil, suite.helper.Logger)
	suite.Require().NoError(err)

	suite.Run("records last sequence", func() {
		id, err := reg.Resolve(suite.ctx, addrA, suite.now)
		suite.Require().NoError(err)
		suite.Require().NoError(reg.Update(suite.ctx, id, 42, suite.now.Add(time.Second)))

		rec, ok := reg.Lookup(id)
		suite.Require().True(ok)
		suite.True(rec.HasSequence)
		suite.Equal(uint16(42), rec.LastSequence)
		suite.Equal(suite.now.Add(time.Second), rec.LastSeen)
	})

	suite.Run("rejects unknown device", func() {
		err := reg.Update(suite.ctx, model.DeviceID("nope"), 1, suite.now)
		suite.ErrorIs(err, registry.ErrUnknownDevice)
	})
}

func (suite *RegistryTestSuite) TestSQLiteStore_SurvivesRestart() {
	path := filepath.Join(suite.T().TempDir(), "registry.db")

	reg, err := registry.New(suite.ctx, suite.newSQLiteStore(path), nil, suite.helper.Logger)
	suite.Require().NoError(err)
	id, err := reg.Resolve(suite.ctx, addrA, suite.now)
	suite.Require().NoError(err)
	suite.Require().NoError(reg.Update(suite.ctx, id, 65535, suite.now.Add(time.Second)))

	names := map[model.Address]string{addrA: "cellar"}
	reopened, err := registry.New(suite.ctx, suite.newSQLiteStore(path), names, suite.helper.Logger)
	suite.Require().NoError(err)

	rec, ok := reopened.Lookup(id)
	suite.Require().True(ok, "persisted device MUST be loaded on restart")
	suite.Equal(addrA, rec.Address)
	suite.Equal("cellar", rec.Name)
	suite.True(rec.HasSequence)
	suite.Equal(uint16(65535), rec.LastSequence)
	suite.True(rec.FirstSeen.Equal(suite.now))

	again, err := reopened.Resolve(suite.ctx, addrA, suite.now.Add(time.Hour))
	suite.Require().NoError(err)
	suite.Equal(id, again)
}

type failingStore struct {
	registry.Store
	err error
}

func (f *failingStore) Load(context.Context) ([]model.DeviceRecord, error) { return nil, nil }
func (f *failingStore) Insert(context.Context, model.DeviceRecord) error   { return f.err }

func (suite *RegistryTestSuite) TestResolve_StoreFailureIsNotCached() {
	storeErr := errors.New("disk full")
	reg, err := registry.New(suite.ctx, &failingStore{err: storeErr}, nil, suite.helper.Logger)
	suite.Require().NoError(err)

	_, err = reg.Resolve(suite.ctx, addrA, suite.now)
	suite.ErrorIs(err, storeErr)
	suite.Equal(0, reg.Len(), "failed registration MUST NOT be indexed")
}

type readOnlyStore struct {
	*registry.MemoryStore
}

func (readOnlyStore) UpdateLastSeen(context.Context, model.DeviceID, uint16, time.Time) error {
	return errors.New("attempt to write a readonly database")
}

func (suite *RegistryTestSuite) TestUpdate_PersistFailureKeepsInMemoryMark() {
	reg, err := registry.New(suite.ctx, readOnlyStore{registry.NewMemoryStore()}, nil, suite.helper.Logger)
	suite.Require().NoError(err)
	id, err := reg.Resolve(suite.ctx, addrA, suite.now)
	suite.Require().NoError(err)

	err = reg.Update(suite.ctx, id, 7, suite.now.Add(time.Second))
	suite.Require().Error(err)
	suite.Contains(err.Error(), "readonly")

	rec, ok := reg.Lookup(id)
	suite.Require().True(ok)
	suite.True(rec.HasSequence, "in-memory mark MUST advance even when persisting fails")
	suite.Equal(uint16(7), rec.LastSequence)
	suite.Equal(suite.now.Add(time.Second), rec.LastSeen)
}

func TestRegistryTestSuite(t *testing.T) {
	suite.Run(t, new(RegistryTestSuite))
}
