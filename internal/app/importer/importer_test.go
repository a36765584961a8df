package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/mediaimport/internal/domain"
	"github.com/John-Robertt/mediaimport/internal/infra/fsx"
)

// fakeFS 在真实文件系统之上按路径注入失败。
type fakeFS struct {
	fsx.OS
	failCopy   map[string]error
	failRemove map[string]error
}

func (f fakeFS) CopyFile(src, dst string) (int64, error) {
	if err := f.failCopy[src]; err != nil {
		return 0, err
	}
	return f.OS.CopyFile(src, dst)
}

func (f fakeFS) Remove(p string) error {
	if err := f.failRemove[p]; err != nil {
		return err
	}
	return f.OS.Remove(p)
}

type recordObserver struct {
	mu       sync.Mutex
	events   []Event
	finishes []Result
	onEvent  func(Event)
}

func (o *recordObserver) OnTransition(ev Event) {
	o.mu.Lock()
	o.events = append(o.events, ev)
	fn := o.onEvent
	o.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (o *recordObserver) OnFinish(res Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finishes = append(o.finishes, res)
}

func (o *recordObserver) statusesOf(idx int) []domain.FileStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []domain.FileStatus
	for _, ev := range o.events {
		if ev.Index == idx {
			out = append(out, ev.File.Status)
		}
	}
	return out
}

type fixture struct {
	src, dst string
	mtime    time.Time
}

func newFixture(t *testing.T) fixture {
	return fixture{
		src:   t.TempDir(),
		dst:   t.TempDir(),
		mtime: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

// waiting 在源目录创建文件，并返回一个已规划好的 waiting 条目。
func (fx fixture) waiting(t *testing.T, name, content string) domain.MediaFile {
	t.Helper()
	p := filepath.Join(fx.src, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(p, fx.mtime, fx.mtime))

	f := domain.NewMediaFile(p, domain.TypeImage, fx.mtime)
	size := int64(len(content))
	f.Size = &size
	f.Enriched = true
	f.DestinationPath = filepath.Join(fx.dst, "2024", "05", name)
	return f
}

func (fx fixture) settings(deleteOriginals bool) domain.Settings {
	return domain.Settings{DestinationRoot: fx.dst, DeleteOriginals: deleteOriginals}
}

func TestImport_OneFailureDoesNotStopBatch(t *testing.T) {
	fx := newFixture(t)
	var files []domain.MediaFile
	for _, n := range []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg", "e.jpg"} {
		files = append(files, fx.waiting(t, n, "content-"+n))
	}
	fsys := fakeFS{failCopy: map[string]error{files[2].SourcePath: errors.New("磁盘已满")}}

	obs := &recordObserver{}
	res := New(WithFileSystem(fsys)).Import(context.Background(), files, fx.settings(false), obs)

	require.Equal(t, OutcomeCompleted, res.Outcome)
	require.NoError(t, res.Err)
	assert.Equal(t, 4, res.Progress.Imported)
	assert.Equal(t, 1, res.Progress.Failed)
	assert.Equal(t, 5, res.Progress.Done)
	assert.Equal(t, 5, res.Progress.Total)

	for i, f := range res.Files {
		if i == 2 {
			assert.Equal(t, domain.StatusFailed, f.Status)
			assert.Contains(t, f.ImportError, "磁盘已满")
			assert.Equal(t, []domain.FileStatus{domain.StatusCopying, domain.StatusFailed}, obs.statusesOf(i))
			continue
		}
		assert.Equal(t, domain.StatusImported, f.Status, f.SourcePath)
		assert.Equal(t, []domain.FileStatus{domain.StatusCopying, domain.StatusVerifying, domain.StatusImported}, obs.statusesOf(i))

		fi, err := os.Stat(f.DestinationPath)
		require.NoError(t, err)
		assert.True(t, fi.ModTime().Equal(fx.mtime), "应保留源文件修改时间")
		_, err = os.Stat(f.SourcePath)
		assert.NoError(t, err, "未开启删除时源文件保留")
	}

	require.Len(t, obs.finishes, 1)
	// 输入不被修改。
	assert.Equal(t, domain.StatusWaiting, files[0].Status)
}

func TestImport_CancelAfterN(t *testing.T) {
	fx := newFixture(t)
	var files []domain.MediaFile
	for _, n := range []string{"1.jpg", "2.jpg", "3.jpg", "4.jpg", "5.jpg"} {
		files = append(files, fx.waiting(t, n, n))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	const n = 2
	terminal := 0
	obs := &recordObserver{onEvent: func(ev Event) {
		if ev.File.Status.IsTerminalImport() {
			terminal++
			if terminal == n {
				cancel()
			}
		}
	}}

	res := New().Import(ctx, files, fx.settings(false), obs)

	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.NoError(t, res.Err, "取消不是错误")
	for i, f := range res.Files {
		if i < n {
			assert.Equal(t, domain.StatusImported, f.Status)
			continue
		}
		assert.Equal(t, domain.StatusWaiting, f.Status)
		assert.Empty(t, obs.statusesOf(i))
		_, err := os.Stat(f.DestinationPath)
		assert.True(t, os.IsNotExist(err))
	}
	assert.Equal(t, n, res.Progress.Done)
	require.Len(t, obs.finishes, 1)
}

func TestImport_DeletionFailureIsSoft(t *testing.T) {
	fx := newFixture(t)
	ok := fx.waiting(t, "ok.jpg", "ok")
	ro := fx.waiting(t, "ro.jpg", "ro")
	fsys := fakeFS{failRemove: map[string]error{ro.SourcePath: os.ErrPermission}}

	res := New(WithFileSystem(fsys)).Import(context.Background(), []domain.MediaFile{ok, ro}, fx.settings(true), nil)

	assert.Equal(t, domain.StatusImported, res.Files[0].Status)
	_, err := os.Stat(ok.SourcePath)
	assert.True(t, os.IsNotExist(err), "源文件应被删除")

	assert.Equal(t, domain.StatusImportedDelErr, res.Files[1].Status)
	assert.Contains(t, res.Files[1].ImportError, "删除原文件失败")
	_, err = os.Stat(ro.DestinationPath)
	assert.NoError(t, err, "复制结果必须保留")
	assert.Equal(t, 2, res.Progress.Imported)
	assert.Zero(t, res.Progress.Failed)
}

func TestImport_PreExisting(t *testing.T) {
	fx := newFixture(t)
	f := fx.waiting(t, "a.jpg", "a")
	f.Status = domain.StatusPreExisting

	// 不删除原文件：什么也不做。
	res := New().Import(context.Background(), []domain.MediaFile{f}, fx.settings(false), nil)
	assert.Equal(t, domain.StatusPreExisting, res.Files[0].Status)
	assert.Equal(t, 1, res.Progress.PreExisting)
	_, err := os.Stat(f.DestinationPath)
	assert.True(t, os.IsNotExist(err), "pre_existing 不应复制")

	// 删除失败：记录错误，状态不变。
	fsys := fakeFS{failRemove: map[string]error{f.SourcePath: os.ErrPermission}}
	res = New(WithFileSystem(fsys)).Import(context.Background(), []domain.MediaFile{f}, fx.settings(true), nil)
	assert.Equal(t, domain.StatusPreExisting, res.Files[0].Status)
	assert.NotEmpty(t, res.Files[0].ImportError)

	// 删除成功。
	obs := &recordObserver{}
	res = New().Import(context.Background(), []domain.MediaFile{f}, fx.settings(true), obs)
	assert.Equal(t, domain.StatusDeletedAsDup, res.Files[0].Status)
	assert.Equal(t, []domain.FileStatus{domain.StatusDeletedAsDup}, obs.statusesOf(0))
	_, err = os.Stat(f.SourcePath)
	assert.True(t, os.IsNotExist(err))
}

func TestImport_SourceDuplicatesFollowCanonical(t *testing.T) {
	fx := newFixture(t)
	canon := fx.waiting(t, "a.jpg", "same")
	dup1 := fx.waiting(t, "b.jpg", "same")
	dup2 := fx.waiting(t, "c.jpg", "same")
	for _, d := range []*domain.MediaFile{&dup1, &dup2} {
		d.Status = domain.StatusDuplicateInSource
		d.DuplicateOf = &canon.ID
		d.DestinationPath = ""
	}
	fsys := fakeFS{failRemove: map[string]error{dup2.SourcePath: os.ErrPermission}}

	res := New(WithFileSystem(fsys)).Import(context.Background(), []domain.MediaFile{canon, dup1, dup2}, fx.settings(true), nil)

	assert.Equal(t, domain.StatusImported, res.Files[0].Status)
	assert.Equal(t, domain.StatusDeletedAsDup, res.Files[1].Status)
	_, err := os.Stat(dup1.SourcePath)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, domain.StatusFailed, res.Files[2].Status)
	assert.NotEmpty(t, res.Files[2].ImportError)
}

func TestImport_SourceDuplicatesKeptWhenCanonicalFails(t *testing.T) {
	fx := newFixture(t)
	canon := fx.waiting(t, "a.jpg", "same")
	dup := fx.waiting(t, "b.jpg", "same")
	dup.Status = domain.StatusDuplicateInSource
	dup.DuplicateOf = &canon.ID
	dup.DestinationPath = ""
	fsys := fakeFS{failCopy: map[string]error{canon.SourcePath: errors.New("io")}}

	res := New(WithFileSystem(fsys)).Import(context.Background(), []domain.MediaFile{canon, dup}, fx.settings(true), nil)

	assert.Equal(t, domain.StatusFailed, res.Files[0].Status)
	assert.Equal(t, domain.StatusDuplicateInSource, res.Files[1].Status)
	_, err := os.Stat(dup.SourcePath)
	assert.NoError(t, err, "canonical 未导入时不得删除重复文件")
}

func TestImport_SidecarsFollowPrimary(t *testing.T) {
	fx := newFixture(t)
	f := fx.waiting(t, "CLIP.MP4", "video")
	sc := filepath.Join(fx.src, "CLIP.THM")
	require.NoError(t, os.WriteFile(sc, []byte("thm"), 0o644))
	f.Sidecars = []string{sc}
	f.DestinationPath = filepath.Join(fx.dst, "20240501_100000.mp4")

	res := New().Import(context.Background(), []domain.MediaFile{f}, fx.settings(true), nil)

	require.Equal(t, domain.StatusImported, res.Files[0].Status)
	b, err := os.ReadFile(filepath.Join(fx.dst, "20240501_100000.thm"))
	require.NoError(t, err)
	assert.Equal(t, "thm", string(b))
	_, err = os.Stat(sc)
	assert.True(t, os.IsNotExist(err), "sidecar 应随源文件删除")
}

func TestImport_VerifyMismatch(t *testing.T) {
	fx := newFixture(t)
	f := fx.waiting(t, "a.jpg", "abc")
	wrong := int64(99)
	f.Size = &wrong

	obs := &recordObserver{}
	res := New().Import(context.Background(), []domain.MediaFile{f}, fx.settings(true), obs)

	assert.Equal(t, domain.StatusFailed, res.Files[0].Status)
	assert.Contains(t, res.Files[0].ImportError, "校验失败")
	assert.Equal(t, []domain.FileStatus{domain.StatusCopying, domain.StatusVerifying, domain.StatusFailed}, obs.statusesOf(0))
	_, err := os.Stat(f.SourcePath)
	assert.NoError(t, err, "校验失败不得删除源文件")
	_, err = os.Stat(f.DestinationPath)
	assert.True(t, os.IsNotExist(err), "校验失败的副本应被清理")
}

func TestImport_ExistingDestinationIsNotOverwritten(t *testing.T) {
	fx := newFixture(t)
	f := fx.waiting(t, "a.jpg", "new")
	require.NoError(t, os.MkdirAll(filepath.Dir(f.DestinationPath), 0o755))
	require.NoError(t, os.WriteFile(f.DestinationPath, []byte("old"), 0o644))

	res := New().Import(context.Background(), []domain.MediaFile{f}, fx.settings(false), nil)

	assert.Equal(t, domain.StatusFailed, res.Files[0].Status)
	b, err := os.ReadFile(f.DestinationPath)
	require.NoError(t, err)
	assert.Equal(t, "old", string(b))
}

func TestImport_NoDestination(t *testing.T) {
	obs := &recordObserver{}
	f := domain.NewMediaFile("/card/a.jpg", domain.TypeImage, time.Time{})
	res := New().Import(context.Background(), []domain.MediaFile{f}, domain.Settings{}, obs)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrNoDestination)
	assert.Equal(t, domain.StatusWaiting, res.Files[0].Status)
	assert.Len(t, obs.finishes, 1)
	assert.Empty(t, obs.events)
}

func TestStart_EventsThenWait(t *testing.T) {
	fx := newFixture(t)
	files := []domain.MediaFile{fx.waiting(t, "a.jpg", "a"), fx.waiting(t, "b.jpg", "b")}

	job := New().Start(context.Background(), files, fx.settings(false))

	var got []domain.FileStatus
	for ev := range job.Events {
		got = append(got, ev.File.Status)
	}
	res := job.Wait()

	assert.Len(t, got, 6)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 2, res.Progress.Imported)
}

func TestStart_NewJobCancelsPrevious(t *testing.T) {
	fx := newFixture(t)
	var files []domain.MediaFile
	for _, n := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		files = append(files, fx.waiting(t, n, n))
	}

	e := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	first := e.Start(ctx, files, fx.settings(false))
	second := e.Start(context.Background(), nil, fx.settings(false))

	assert.Equal(t, OutcomeCancelled, first.Wait().Outcome)
	assert.Equal(t, OutcomeCompleted, second.Wait().Outcome)
	select {
	case <-first.Done():
	default:
		t.Fatalf("上一个 Job 应已结束")
	}
}

// sidecar 在源目录创建一个 sidecar 并挂到 f 上。
func (fx fixture) sidecar(t *testing.T, f *domain.MediaFile, name, content string) string {
	t.Helper()
	p := filepath.Join(fx.src, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	f.Sidecars = append(f.Sidecars, p)
	return p
}

func writeAt(t *testing.T, p, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestImport_PreExistingSidecarDeletedOnlyWhenCopyExists(t *testing.T) {
	fx := newFixture(t)

	// 目的地只有主文件，没有 sidecar：主文件删源，sidecar 保留并记录。
	a := fx.waiting(t, "a.jpg", "a")
	a.Status = domain.StatusPreExisting
	writeAt(t, a.DestinationPath, "a")
	scA := fx.sidecar(t, &a, "a.xmp", "rating=5")

	// 目的地已有内容相同的 sidecar：一起删源。
	b := fx.waiting(t, "b.jpg", "b")
	b.Status = domain.StatusPreExisting
	writeAt(t, b.DestinationPath, "b")
	scB := fx.sidecar(t, &b, "b.xmp", "rating=3")
	writeAt(t, filepath.Join(fx.dst, "2024", "05", "b.xmp"), "rating=3")

	res := New().Import(context.Background(), []domain.MediaFile{a, b}, fx.settings(true), nil)

	assert.Equal(t, domain.StatusDeletedAsDup, res.Files[0].Status)
	_, err := os.Stat(a.SourcePath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(scA)
	assert.NoError(t, err, "目的地没有副本的 sidecar 必须保留")
	assert.Contains(t, res.Files[0].ImportError, "a.xmp")

	assert.Equal(t, domain.StatusDeletedAsDup, res.Files[1].Status)
	assert.Empty(t, res.Files[1].ImportError)
	_, err = os.Stat(scB)
	assert.True(t, os.IsNotExist(err))
}

func TestImport_SourceDuplicateKeepsUncopiedSidecar(t *testing.T) {
	fx := newFixture(t)
	canon := fx.waiting(t, "a.jpg", "same")
	dup := fx.waiting(t, "b.jpg", "same")
	dup.Status = domain.StatusDuplicateInSource
	dup.DuplicateOf = &canon.ID
	dup.DestinationPath = ""
	sc := fx.sidecar(t, &dup, "b.xmp", "edits")

	res := New().Import(context.Background(), []domain.MediaFile{canon, dup}, fx.settings(true), nil)

	assert.Equal(t, domain.StatusImported, res.Files[0].Status)
	assert.Equal(t, domain.StatusDeletedAsDup, res.Files[1].Status)
	_, err := os.Stat(sc)
	assert.NoError(t, err, "duplicate 的 sidecar 从未被复制，不得删除")
	assert.NotEmpty(t, res.Files[1].ImportError)
}

func TestImport_ForeignSidecarAtDestinationIsCollision(t *testing.T) {
	fx := newFixture(t)
	f := fx.waiting(t, "a.jpg", "a")
	sc := fx.sidecar(t, &f, "a.xmp", "mine")
	foreign := filepath.Join(fx.dst, "2024", "05", "a.xmp")
	writeAt(t, foreign, "someone-else")

	res := New().Import(context.Background(), []domain.MediaFile{f}, fx.settings(true), nil)

	assert.Equal(t, domain.StatusFailed, res.Files[0].Status)
	assert.Contains(t, res.Files[0].ImportError, "不同内容")
	b, err := os.ReadFile(foreign)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", string(b), "目的地已有文件不得被覆盖")
	_, err = os.Stat(f.DestinationPath)
	assert.True(t, os.IsNotExist(err), "失败的文件不应在目的地留下主文件副本")
	_, err = os.Stat(f.SourcePath)
	assert.NoError(t, err)
	_, err = os.Stat(sc)
	assert.NoError(t, err)
}

func TestImport_SharedSidecarAcrossDirectories(t *testing.T) {
	fx := newFixture(t)
	jpg := fx.waiting(t, "IMG.JPG", "photo")
	jpg.DestinationPath = filepath.Join(fx.dst, "2024", "05", "IMG.jpg")
	mov := fx.waiting(t, "IMG.MOV", "movie")
	mov.DestinationPath = filepath.Join(fx.dst, "2024", "06", "IMG.mov")
	sc := filepath.Join(fx.src, "IMG.THM")
	require.NoError(t, os.WriteFile(sc, []byte("thm"), 0o644))
	jpg.Sidecars = []string{sc}
	mov.Sidecars = []string{sc}

	res := New().Import(context.Background(), []domain.MediaFile{jpg, mov}, fx.settings(true), nil)

	for i, f := range res.Files {
		assert.Equal(t, domain.StatusImported, f.Status, f.ImportError)
		_, err := os.Stat(sidecarDestination(f.DestinationPath, sc))
		assert.NoError(t, err, "第 %d 个主文件旁应有 sidecar", i)
	}
	_, err := os.Stat(sc)
	assert.True(t, os.IsNotExist(err), "所有主文件完成后删除共享 sidecar")
}

func TestImport_SharedSidecarKeptWhileAPrimaryRemains(t *testing.T) {
	fx := newFixture(t)
	jpg := fx.waiting(t, "IMG.JPG", "photo")
	mov := fx.waiting(t, "IMG.MOV", "movie")
	sc := filepath.Join(fx.src, "IMG.THM")
	require.NoError(t, os.WriteFile(sc, []byte("thm"), 0o644))
	jpg.Sidecars = []string{sc}
	mov.Sidecars = []string{sc}
	fsys := fakeFS{failRemove: map[string]error{mov.SourcePath: os.ErrPermission}}

	res := New(WithFileSystem(fsys)).Import(context.Background(), []domain.MediaFile{jpg, mov}, fx.settings(true), nil)

	// 同一目录：第二个主文件遇到内容相同的 sidecar，视为已复制。
	assert.Equal(t, domain.StatusImported, res.Files[0].Status)
	assert.Equal(t, domain.StatusImportedDelErr, res.Files[1].Status)
	_, err := os.Stat(sc)
	assert.NoError(t, err, "IMG.MOV 还在源目录，sidecar 应保留")
}

func TestImport_SidecarCopyFailureRollsBackPrimary(t *testing.T) {
	fx := newFixture(t)
	f := fx.waiting(t, "a.jpg", "a")
	sc := fx.sidecar(t, &f, "a.xmp", "x")
	fsys := fakeFS{failCopy: map[string]error{sc: errors.New("io")}}

	res := New(WithFileSystem(fsys)).Import(context.Background(), []domain.MediaFile{f}, fx.settings(true), nil)

	assert.Equal(t, domain.StatusFailed, res.Files[0].Status)
	assert.Contains(t, res.Files[0].ImportError, "复制 sidecar 失败")
	_, err := os.Stat(f.DestinationPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(f.SourcePath)
	assert.NoError(t, err)
	_, err = os.Stat(sc)
	assert.NoError(t, err)
}

func TestImport_RollbackFailureIsReported(t *testing.T) {
	fx := newFixture(t)
	f := fx.waiting(t, "a.jpg", "abc")
	wrong := int64(99)
	f.Size = &wrong
	fsys := fakeFS{failRemove: map[string]error{f.DestinationPath: os.ErrPermission}}

	res := New(WithFileSystem(fsys)).Import(context.Background(), []domain.MediaFile{f}, fx.settings(false), nil)

	assert.Equal(t, domain.StatusFailed, res.Files[0].Status)
	assert.Contains(t, res.Files[0].ImportError, "清理副本失败")
}
