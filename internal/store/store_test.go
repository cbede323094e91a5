package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bingooyong/ota-engine/internal/manifest"
	"github.com/bingooyong/ota-engine/internal/model"
	"github.com/bingooyong/ota-engine/pkg/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fixture struct {
	key  string
	data []byte
}

func refFor(f fixture, hashType string, launch bool) manifest.AssetRef {
	digest, err := Digest(hashType, f.data)
	if err != nil {
		panic(err)
	}
	return manifest.AssetRef{
		Key:      f.key,
		URL:      "https://cdn.example.com/" + f.key,
		Hash:     EncodeHash(digest),
		HashType: hashType,
		IsLaunch: launch,
	}
}

func buildManifest(commit time.Time, launch fixture, deps ...fixture) *manifest.Manifest {
	m := &manifest.Manifest{
		Kind:           manifest.KindNew,
		ID:             uuid.New(),
		CommitTime:     commit,
		RuntimeVersion: "exposdk:49.0.0",
		LaunchAsset:    refFor(launch, HashSHA256, true),
		Raw:            []byte(`{}`),
	}
	for _, d := range deps {
		m.Assets = append(m.Assets, refFor(d, HashSHA256, false))
	}
	return m
}

// StoreTestSuite 资源存储与更新记录存储测试套件
type StoreTestSuite struct {
	suite.Suite
	db      *gorm.DB
	dir     string
	content *ContentStore
	updates *UpdateStore
	ctx     context.Context
	base    time.Time
}

func (s *StoreTestSuite) SetupTest() {
	tmp := s.T().TempDir()
	db, err := gorm.Open(sqlite.Open(filepath.Join(tmp, "updates.db")), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	require.NoError(s.T(), err, "初始化数据库失败")
	sqlDB, err := db.DB()
	require.NoError(s.T(), err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(s.T(), db.AutoMigrate(&model.Update{}, &model.Asset{}, &model.UpdateAsset{}, &model.JSONData{}))

	s.db = db
	s.dir = filepath.Join(tmp, "assets")
	s.content, err = NewContentStore(db, s.dir, NewScopeLocks(), zap.NewNop())
	require.NoError(s.T(), err)
	s.updates = NewUpdateStore(db, s.content, zap.NewNop())
	s.ctx = context.Background()
	s.base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
}

func (s *StoreTestSuite) TearDownTest() {
	sqlDB, _ := s.db.DB()
	sqlDB.Close()
}

func (s *StoreTestSuite) files() []string {
	entries, err := os.ReadDir(s.dir)
	s.Require().NoError(err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// install 下载并提交一个更新
func (s *StoreTestSuite) install(m *manifest.Manifest, data map[string][]byte) *model.Update {
	p, err := s.updates.BeginUpdate(s.ctx, "default", m)
	s.Require().NoError(err)
	for _, ref := range m.AllAssets() {
		asset, err := s.content.Admit(s.ctx, data[ref.Key], ref)
		s.Require().NoError(err)
		s.Require().NoError(p.Attach(s.ctx, ref.Key, asset))
	}
	u, err := s.updates.CommitUpdate(s.ctx, p)
	s.Require().NoError(err)
	return u
}

func dataOf(fs ...fixture) map[string][]byte {
	out := make(map[string][]byte, len(fs))
	for _, f := range fs {
		out[f.key] = f.data
	}
	return out
}

// TestAdmit_HashRoundTrip 正确摘要入库成功，错误摘要失败且不留文件
func (s *StoreTestSuite) TestAdmit_HashRoundTrip() {
	for _, hashType := range []string{HashSHA256, HashSHA512, HashBLAKE2b256} {
		f := fixture{key: "bundle-" + hashType, data: []byte("console.log('" + hashType + "')")}
		ref := refFor(f, hashType, false)

		asset, err := s.content.Admit(s.ctx, f.data, ref)
		s.Require().NoError(err, hashType)
		s.Equal(hashType, asset.HashType)
		s.Equal(int64(len(f.data)), asset.Size)
		s.True(s.content.FileExists(asset))

		has, err := s.content.Has(s.ctx, ref.Hash, hashType)
		s.Require().NoError(err)
		s.True(has)
	}
	s.Len(s.files(), 3)

	bad := refFor(fixture{key: "x", data: []byte("other bytes")}, HashSHA256, false)
	_, err := s.content.Admit(s.ctx, []byte("tampered"), bad)
	s.Require().Error(err)
	s.True(errors.IsCode(err, errors.ErrHashMismatch))
	s.Len(s.files(), 3)

	has, err := s.content.Has(s.ctx, bad.Hash, HashSHA256)
	s.Require().NoError(err)
	s.False(has)
}

// TestAdmit_UnsupportedHashType 不支持的算法直接拒绝
func (s *StoreTestSuite) TestAdmit_UnsupportedHashType() {
	ref := refFor(fixture{key: "a", data: []byte("a")}, HashSHA256, false)
	ref.HashType = "md5"
	_, err := s.content.Admit(s.ctx, []byte("a"), ref)
	s.True(errors.IsCode(err, errors.ErrUnsupportedHashType))
	s.False(SupportsHashType("md5"))
	s.True(SupportsHashType(HashBLAKE2b256))
}

// TestDedup_SameBytesDifferentKeys 相同内容不同名称只有一个文件和一行资源
func (s *StoreTestSuite) TestDedup_SameBytesDifferentKeys() {
	launch := fixture{key: "bundle", data: []byte("bundle")}
	icon := fixture{key: "icon", data: []byte("same image")}
	logo := fixture{key: "logo", data: []byte("same image")}
	m := buildManifest(s.base, launch, icon, logo)

	u := s.install(m, dataOf(launch, icon, logo))

	var assetCount, joinCount int64
	s.db.Model(&model.Asset{}).Count(&assetCount)
	s.db.Model(&model.UpdateAsset{}).Where("update_id = ?", u.ID).Count(&joinCount)
	s.Equal(int64(2), assetCount)
	s.Equal(int64(3), joinCount)
	s.Len(s.files(), 2)
}

// TestAdmit_ConcurrentSameHash 并发入库相同内容是幂等的
func (s *StoreTestSuite) TestAdmit_ConcurrentSameHash() {
	f := fixture{key: "shared", data: []byte("shared payload")}
	ref := refFor(f, HashSHA256, false)

	var wg sync.WaitGroup
	ids := make([]uint, 8)
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			asset, err := s.content.Admit(s.ctx, f.data, ref)
			errs[i] = err
			if err == nil {
				ids[i] = asset.ID
			}
		}(i)
	}
	wg.Wait()

	for i := range ids {
		s.Require().NoError(errs[i])
		s.Equal(ids[0], ids[i])
	}
	s.Len(s.files(), 1)
}

// TestAtomicity_PartialUpdateNeverLaunchable 中途崩溃的更新不会成为可启动更新
func (s *StoreTestSuite) TestAtomicity_PartialUpdateNeverLaunchable() {
	launch := fixture{key: "bundle", data: []byte("bundle v1")}
	dep := fixture{key: "font", data: []byte("font")}
	m := buildManifest(s.base, launch, dep)

	p, err := s.updates.BeginUpdate(s.ctx, "default", m)
	s.Require().NoError(err)
	asset, err := s.content.Admit(s.ctx, dep.data, m.Assets[0])
	s.Require().NoError(err)
	s.Require().NoError(p.Attach(s.ctx, dep.key, asset))

	_, err = s.updates.CommitUpdate(s.ctx, p)
	s.True(errors.IsCode(err, errors.ErrIncompleteUpdate))

	// 模拟进程退出
	p.Release()

	got, err := s.updates.CurrentLaunchableUpdate(s.ctx, "default", "49.0.0")
	s.Require().NoError(err)
	s.Nil(got)

	// 入口已关联但依赖缺失同样不能提交
	other := buildManifest(s.base.Add(time.Minute), launch, fixture{key: "missing", data: []byte("m")})
	p, err = s.updates.BeginUpdate(s.ctx, "default", other)
	s.Require().NoError(err)
	la, err := s.content.Admit(s.ctx, launch.data, other.LaunchAsset)
	s.Require().NoError(err)
	s.Require().NoError(p.Attach(s.ctx, launch.key, la))
	_, err = s.updates.CommitUpdate(s.ctx, p)
	s.True(errors.IsCode(err, errors.ErrIncompleteUpdate))
	s.Equal([]string{"missing"}, p.Missing())
	p.Release()

	got, err = s.updates.CurrentLaunchableUpdate(s.ctx, "default", "49.0.0")
	s.Require().NoError(err)
	s.Nil(got)
}

// TestAtomicity_MissingLaunchFile 入口文件丢失的更新不可启动
func (s *StoreTestSuite) TestAtomicity_MissingLaunchFile() {
	launch := fixture{key: "bundle", data: []byte("bundle")}
	u := s.install(buildManifest(s.base, launch), dataOf(launch))

	path, err := s.updates.LaunchAssetPath(s.ctx, u)
	s.Require().NoError(err)
	s.Require().NoError(os.Remove(path))

	got, err := s.updates.CurrentLaunchableUpdate(s.ctx, "default", "49.0.0")
	s.Require().NoError(err)
	s.Nil(got)

	has, err := s.content.Has(s.ctx, buildManifest(s.base, launch).LaunchAsset.Hash, HashSHA256)
	s.Require().NoError(err)
	s.False(has)
}

// TestOrdering_LatestEligibleWins 返回提交时间最大的可启动更新，崩溃循环后回退
func (s *StoreTestSuite) TestOrdering_LatestEligibleWins() {
	var records []*model.Update
	for i := 0; i < 3; i++ {
		launch := fixture{key: "bundle", data: []byte{byte('a' + i)}}
		records = append(records, s.install(buildManifest(s.base.Add(time.Duration(i)*time.Hour), launch), dataOf(launch)))
	}

	got, err := s.updates.CurrentLaunchableUpdate(s.ctx, "default", "49.0.0")
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(records[2].ID, got.ID)

	s.Require().NoError(s.updates.RecordLaunchResult(s.ctx, records[2].ID, false))

	got, err = s.updates.CurrentLaunchableUpdate(s.ctx, "default", "49.0.0")
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(records[1].ID, got.ID)

	// 其他运行时版本和作用域不可见
	got, err = s.updates.CurrentLaunchableUpdate(s.ctx, "default", "50.0.0")
	s.Require().NoError(err)
	s.Nil(got)
	got, err = s.updates.CurrentLaunchableUpdate(s.ctx, "other", "49.0.0")
	s.Require().NoError(err)
	s.Nil(got)
}

// TestCrashLoop_SuccessResetsEligibility 有过成功启动的更新不会因失败变为不可启动
func (s *StoreTestSuite) TestCrashLoop_SuccessResetsEligibility() {
	launch := fixture{key: "bundle", data: []byte("stable")}
	u := s.install(buildManifest(s.base, launch), dataOf(launch))

	s.Require().NoError(s.updates.RecordLaunchResult(s.ctx, u.ID, true))
	s.Require().NoError(s.updates.RecordLaunchResult(s.ctx, u.ID, false))
	s.Require().NoError(s.updates.RecordLaunchResult(s.ctx, u.ID, false))

	got, err := s.updates.CurrentLaunchableUpdate(s.ctx, "default", "49.0.0")
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(u.ID, got.ID)

	err = s.updates.RecordLaunchResult(s.ctx, uuid.New(), true)
	s.True(errors.IsCode(err, errors.ErrUpdateNotFound))
}

// TestBeginUpdate_ResumeAndAlreadyExists 续传复用PENDING记录，已提交的更新不可重复开始
func (s *StoreTestSuite) TestBeginUpdate_ResumeAndAlreadyExists() {
	launch := fixture{key: "bundle", data: []byte("bundle")}
	dep := fixture{key: "img", data: []byte("img")}
	m := buildManifest(s.base, launch, dep)

	p, err := s.updates.BeginUpdate(s.ctx, "default", m)
	s.Require().NoError(err)
	asset, err := s.content.Admit(s.ctx, dep.data, m.Assets[0])
	s.Require().NoError(err)
	s.Require().NoError(p.Attach(s.ctx, dep.key, asset))
	p.Release()

	p, err = s.updates.BeginUpdate(s.ctx, "default", m)
	s.Require().NoError(err)
	s.True(p.IsAttached(dep.key))
	s.Equal([]string{"bundle"}, p.Missing())

	la, err := s.content.Admit(s.ctx, launch.data, m.LaunchAsset)
	s.Require().NoError(err)
	s.Require().NoError(p.Attach(s.ctx, launch.key, la))
	u, err := s.updates.CommitUpdate(s.ctx, p)
	s.Require().NoError(err)
	s.Equal(model.StatusReady, u.Status)
	s.True(u.Keep)

	_, err = s.updates.BeginUpdate(s.ctx, "default", m)
	s.True(errors.IsCode(err, errors.ErrUpdateAlreadyExists))

	// 提交后句柄失效
	s.Error(p.Attach(s.ctx, launch.key, la))
}

// TestBeginUpdate_UnsupportedHashType 含无法校验资源的清单不建记录
func (s *StoreTestSuite) TestBeginUpdate_UnsupportedHashType() {
	m := buildManifest(s.base, fixture{key: "bundle", data: []byte("bundle")}, fixture{key: "img", data: []byte("img")})
	m.Assets[0].HashType = "md5"

	_, err := s.updates.BeginUpdate(s.ctx, "default", m)
	s.True(errors.IsCode(err, errors.ErrUnsupportedHashType))

	_, err = s.updates.Get(s.ctx, m.ID)
	s.True(errors.IsCode(err, errors.ErrUpdateNotFound))

	// 作用域锁已释放
	m.Assets[0].HashType = HashSHA256
	p, err := s.updates.BeginUpdate(s.ctx, "default", m)
	s.Require().NoError(err)
	p.Release()
}

// TestAdmit_RepairsCorruptedFile 同大小的损坏文件在再次入库时被覆盖
func (s *StoreTestSuite) TestAdmit_RepairsCorruptedFile() {
	f := fixture{key: "bundle", data: []byte("console.log('ok')")}
	ref := refFor(f, HashSHA256, false)

	asset, err := s.content.Admit(s.ctx, f.data, ref)
	s.Require().NoError(err)
	path := s.content.Path(asset)
	s.Require().NoError(os.WriteFile(path, []byte("console.log('no')"), 0644))

	again, err := s.content.Admit(s.ctx, f.data, ref)
	s.Require().NoError(err)
	s.Equal(asset.ID, again.ID)

	got, err := os.ReadFile(path)
	s.Require().NoError(err)
	s.Equal(f.data, got)
	s.Len(s.files(), 1, "临时文件不残留")
}

// TestAttach_UnknownKey 清单外的名称不能关联
func (s *StoreTestSuite) TestAttach_UnknownKey() {
	launch := fixture{key: "bundle", data: []byte("bundle")}
	m := buildManifest(s.base, launch)
	p, err := s.updates.BeginUpdate(s.ctx, "default", m)
	s.Require().NoError(err)
	defer p.Release()

	asset, err := s.content.Admit(s.ctx, launch.data, m.LaunchAsset)
	s.Require().NoError(err)
	s.True(errors.IsCode(p.Attach(s.ctx, "nope", asset), errors.ErrInvalidParams))
}

// TestBeginUpdate_HoldsScopeLock 同一作用域的更新串行
func (s *StoreTestSuite) TestBeginUpdate_HoldsScopeLock() {
	first := buildManifest(s.base, fixture{key: "bundle", data: []byte("1")})
	second := buildManifest(s.base.Add(time.Hour), fixture{key: "bundle", data: []byte("2")})

	p, err := s.updates.BeginUpdate(s.ctx, "default", first)
	s.Require().NoError(err)

	ctx, cancel := context.WithTimeout(s.ctx, 50*time.Millisecond)
	defer cancel()
	_, err = s.updates.BeginUpdate(ctx, "default", second)
	s.ErrorIs(err, context.DeadlineExceeded)

	_, err = s.content.GarbageCollect(ctx, "default", nil)
	s.Error(err)

	// 其他作用域不受影响
	third := buildManifest(s.base, fixture{key: "bundle", data: []byte("3")})
	other, err := s.updates.BeginUpdate(s.ctx, "other", third)
	s.Require().NoError(err)
	other.Release()

	p.Release()
	p2, err := s.updates.BeginUpdate(s.ctx, "default", second)
	s.Require().NoError(err)
	p2.Release()
}

// TestGC_SingleUpdateDeletesNothing 只有一个已提交更新时不回收任何东西
func (s *StoreTestSuite) TestGC_SingleUpdateDeletesNothing() {
	launch := fixture{key: "bundle", data: []byte("bundle")}
	dep := fixture{key: "img", data: []byte("img")}
	s.install(buildManifest(s.base, launch, dep), dataOf(launch, dep))

	result, err := s.content.GarbageCollect(s.ctx, "default", nil)
	s.Require().NoError(err)
	s.Equal(0, result.DeletedUpdateCount)
	s.Equal(0, result.DeletedAssetCount)
	s.Len(s.files(), 2)
}

// TestGC_SupersededUnpinnedUpdate 回收被取代更新独有的资源，保留共享资源
func (s *StoreTestSuite) TestGC_SupersededUnpinnedUpdate() {
	shared := fixture{key: "shared", data: []byte("shared font")}
	oldLaunch := fixture{key: "bundle", data: []byte("bundle v1")}
	oldOnly := fixture{key: "old-image", data: []byte("old image")}
	first := s.install(buildManifest(s.base, oldLaunch, shared, oldOnly), dataOf(oldLaunch, shared, oldOnly))

	newLaunch := fixture{key: "bundle", data: []byte("bundle v2")}
	second := s.install(buildManifest(s.base.Add(time.Hour), newLaunch, shared), dataOf(newLaunch, shared))

	// 仍被固定时不回收
	result, err := s.content.GarbageCollect(s.ctx, "default", nil)
	s.Require().NoError(err)
	s.Equal(0, result.DeletedUpdateCount)

	s.Require().NoError(s.updates.SetKeep(s.ctx, first.ID, false))
	result, err = s.content.GarbageCollect(s.ctx, "default", nil)
	s.Require().NoError(err)
	s.Equal(1, result.DeletedUpdateCount)
	s.Equal(2, result.DeletedAssetCount)
	s.Equal(int64(len(oldLaunch.data)+len(oldOnly.data)), result.FreedBytes)
	s.Len(s.files(), 2)

	_, err = s.updates.Get(s.ctx, first.ID)
	s.True(errors.IsCode(err, errors.ErrUpdateNotFound))

	got, err := s.updates.CurrentLaunchableUpdate(s.ctx, "default", "49.0.0")
	s.Require().NoError(err)
	s.Equal(second.ID, got.ID)

	has, err := s.content.Has(s.ctx, refFor(shared, HashSHA256, false).Hash, HashSHA256)
	s.Require().NoError(err)
	s.True(has)
}

// TestGC_KeepSetAndCrashLoop keepSet 中的更新不回收，崩溃循环的更新在不受保护时回收
func (s *StoreTestSuite) TestGC_KeepSetAndCrashLoop() {
	l1 := fixture{key: "bundle", data: []byte("v1")}
	l2 := fixture{key: "bundle", data: []byte("v2")}
	first := s.install(buildManifest(s.base, l1), dataOf(l1))
	second := s.install(buildManifest(s.base.Add(time.Hour), l2), dataOf(l2))

	s.Require().NoError(s.updates.RecordLaunchResult(s.ctx, second.ID, false))

	result, err := s.content.GarbageCollect(s.ctx, "default", []uuid.UUID{second.ID})
	s.Require().NoError(err)
	s.Equal(0, result.DeletedUpdateCount)

	result, err = s.content.GarbageCollect(s.ctx, "default", nil)
	s.Require().NoError(err)
	s.Equal(1, result.DeletedUpdateCount)

	got, err := s.updates.CurrentLaunchableUpdate(s.ctx, "default", "49.0.0")
	s.Require().NoError(err)
	s.Equal(first.ID, got.ID)
}

// TestGC_UnattachedRecentAssetProtected 刚入库尚未关联的资源在保护期内保留
func (s *StoreTestSuite) TestGC_UnattachedRecentAssetProtected() {
	f := fixture{key: "loose", data: []byte("loose")}
	_, err := s.content.Admit(s.ctx, f.data, refFor(f, HashSHA256, false))
	s.Require().NoError(err)

	result, err := s.content.GarbageCollect(s.ctx, "default", nil)
	s.Require().NoError(err)
	s.Equal(0, result.DeletedAssetCount)
	s.Len(s.files(), 1)

	// 保护期过后回收
	s.content.now = func() time.Time { return time.Now().Add(time.Hour) }
	result, err = s.content.GarbageCollect(s.ctx, "default", nil)
	s.Require().NoError(err)
	s.Equal(1, result.DeletedAssetCount)
	s.Empty(s.files())
}

// TestGC_OrphanSweep 没有资源行的旧文件被清理
func (s *StoreTestSuite) TestGC_OrphanSweep() {
	launch := fixture{key: "bundle", data: []byte("bundle")}
	s.install(buildManifest(s.base, launch), dataOf(launch))
	s.Require().NoError(os.WriteFile(filepath.Join(s.dir, "sha256-stray"), []byte("stray"), 0644))
	s.Require().NoError(os.WriteFile(filepath.Join(s.dir, tempFilePrefix+"123"), []byte("partial"), 0644))

	result, err := s.content.GarbageCollect(s.ctx, "default", nil)
	s.Require().NoError(err)
	s.Equal(0, result.OrphanFileCount)
	s.Len(s.files(), 3)

	s.content.now = func() time.Time { return time.Now().Add(time.Hour) }
	result, err = s.content.GarbageCollect(s.ctx, "default", nil)
	s.Require().NoError(err)
	s.Equal(2, result.OrphanFileCount)
	s.Len(s.files(), 1)
}

// TestUnpinSuperseded 保留最近的旧版本作为回滚目标
func (s *StoreTestSuite) TestUnpinSuperseded() {
	var records []*model.Update
	for i := 0; i < 4; i++ {
		launch := fixture{key: "bundle", data: []byte{byte('a' + i)}}
		records = append(records, s.install(buildManifest(s.base.Add(time.Duration(i)*time.Hour), launch), dataOf(launch)))
	}

	n, err := s.updates.UnpinSuperseded(s.ctx, "default", records[3].ID)
	s.Require().NoError(err)
	s.Equal(2, n)

	for i, keep := range []bool{false, false, true, true} {
		u, err := s.updates.Get(s.ctx, records[i].ID)
		s.Require().NoError(err)
		s.Equal(keep, u.Keep, "record %d", i)
	}

	result, err := s.content.GarbageCollect(s.ctx, "default", []uuid.UUID{records[3].ID})
	s.Require().NoError(err)
	s.Equal(2, result.DeletedUpdateCount)
}

// TestMarkLaunchedAndEmbedded 内置更新与访问时间
func (s *StoreTestSuite) TestMarkLaunchedAndEmbedded() {
	launch := fixture{key: "bundle", data: []byte("embedded")}
	m := buildManifest(s.base, launch)
	p, err := s.updates.BeginUpdate(s.ctx, "default", m)
	s.Require().NoError(err)
	asset, err := s.content.Admit(s.ctx, launch.data, m.LaunchAsset)
	s.Require().NoError(err)
	s.Require().NoError(p.Attach(s.ctx, launch.key, asset))
	u, err := s.updates.CommitEmbedded(s.ctx, p)
	s.Require().NoError(err)
	s.Equal(model.StatusEmbedded, u.Status)

	embedded, err := s.updates.Embedded(s.ctx, "default")
	s.Require().NoError(err)
	s.Equal(u.ID, embedded.ID)

	got, err := s.updates.CurrentLaunchableUpdate(s.ctx, "default", "49.0.0")
	s.Require().NoError(err)
	s.Equal(u.ID, got.ID)

	s.Require().NoError(s.updates.MarkLaunched(s.ctx, u.ID))
	after, err := s.updates.Get(s.ctx, u.ID)
	s.Require().NoError(err)
	s.False(after.LastAccessed.IsZero())

	s.True(errors.IsCode(s.updates.MarkLaunched(s.ctx, uuid.New()), errors.ErrUpdateNotFound))
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func TestScopeLocks(t *testing.T) {
	locks := NewScopeLocks()

	unlock, err := locks.Lock(context.Background(), "a")
	require.NoError(t, err)

	// 其他作用域不受影响
	other, err := locks.Lock(context.Background(), "b")
	require.NoError(t, err)
	other()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.Lock(ctx, "a")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()

	again, err := locks.Lock(context.Background(), "a")
	require.NoError(t, err)
	again()
}
