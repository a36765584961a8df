package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/mediaimport/internal/domain"
)

func TestLoadEffective_ConfigNotFound(t *testing.T) {
	cwd := t.TempDir()

	_, err := LoadEffective(cwd, CLIArgs{})
	if Code(err) != ErrCodeNotFound {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeNotFound, err, Code(err))
	}
}

func TestLoadEffective_ConfigMissingSource(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), []byte(`{"destination":"lib"}`))

	_, err := LoadEffective(cwd, CLIArgs{})
	if Code(err) != ErrCodeMissingSource {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeMissingSource, err, Code(err))
	}
}

func TestLoadEffective_Defaults(t *testing.T) {
	cwd := t.TempDir()

	eff, err := LoadEffective(cwd, CLIArgs{Source: "card"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Source != filepath.Join(cwd, "card") {
		t.Fatalf("期望 source 相对 cwd 解析，实际=%q", eff.Source)
	}
	if eff.Destination != "" || eff.Apply || eff.DeleteOriginals || eff.RenameByDate {
		t.Fatalf("默认值不正确：%+v", eff)
	}
	if !eff.OrganizeByDate {
		t.Fatalf("organize_by_date 默认应为 true")
	}
	if eff.Types != domain.AllTypes() {
		t.Fatalf("types 默认应全部开启，实际=%+v", eff.Types)
	}
	if eff.ThumbnailCacheSize != DefaultThumbnailCacheSize || eff.ThumbnailSize != DefaultThumbnailSize {
		t.Fatalf("缩略图默认值不正确：%+v", eff)
	}
	if !eff.Exiftool {
		t.Fatalf("exiftool 默认应开启")
	}
	if eff.LogLevel != zerolog.InfoLevel {
		t.Fatalf("log_level 默认应为 info，实际=%v", eff.LogLevel)
	}
	if eff.ConfigPath != "" {
		t.Fatalf("没有配置文件时 ConfigPath 应为空，实际=%q", eff.ConfigPath)
	}
}

func TestLoadEffective_ApplyCLIOverride(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), []byte(`{"source":"card","destination":"lib","apply":true}`))

	eff, err := LoadEffective(cwd, CLIArgs{
		Apply:    false,
		ApplySet: true, // --apply=false
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Apply != false {
		t.Fatalf("期望 apply=false，实际=%v", eff.Apply)
	}
	if eff.Destination != filepath.Join(cwd, "lib") {
		t.Fatalf("期望 destination=%q，实际=%q", filepath.Join(cwd, "lib"), eff.Destination)
	}
	if eff.ConfigPath != filepath.Join(cwd, FileName) {
		t.Fatalf("ConfigPath 不正确：%q", eff.ConfigPath)
	}
}

func TestLoadEffective_MergeOrder(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), []byte(`{
		"source": "card",
		"destination": "from-file",
		"delete_originals": true,
		"rename_by_date": true,
		"types": ["image"],
		"log_level": "warn"
	}`))

	// env 覆盖 file。
	t.Setenv("MEDIAIMPORT_DESTINATION", "from-env")
	t.Setenv("MEDIAIMPORT_DELETE_ORIGINALS", "false")
	t.Setenv("MEDIAIMPORT_TYPES", "image,video")

	eff, err := LoadEffective(cwd, CLIArgs{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Destination != filepath.Join(cwd, "from-env") {
		t.Fatalf("期望 env 覆盖 destination，实际=%q", eff.Destination)
	}
	if eff.DeleteOriginals {
		t.Fatalf("期望 env 覆盖 delete_originals=false")
	}
	if !eff.RenameByDate {
		t.Fatalf("env 未设置 rename_by_date 时应沿用 file")
	}
	if want := (domain.TypeFilters{Image: true, Video: true}); eff.Types != want {
		t.Fatalf("期望 types=%+v，实际=%+v", want, eff.Types)
	}
	if eff.LogLevel != zerolog.WarnLevel {
		t.Fatalf("期望 log_level=warn，实际=%v", eff.LogLevel)
	}

	// CLI 覆盖 env。
	eff2, err := LoadEffective(cwd, CLIArgs{
		Destination:        "from-cli",
		DestinationSet:     true,
		DeleteOriginals:    true,
		DeleteOriginalsSet: true,
		Types:              []string{"raw"},
		TypesSet:           true,
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff2.Destination != filepath.Join(cwd, "from-cli") {
		t.Fatalf("期望 CLI 覆盖 destination，实际=%q", eff2.Destination)
	}
	if !eff2.DeleteOriginals {
		t.Fatalf("期望 CLI 覆盖 delete_originals=true")
	}
	if want := (domain.TypeFilters{Raw: true}); eff2.Types != want {
		t.Fatalf("期望 types=%+v，实际=%+v", want, eff2.Types)
	}
}

func TestLoadEffective_EnvSourceMakesConfigOptional(t *testing.T) {
	cwd := t.TempDir()
	src := filepath.Join(cwd, "card")
	t.Setenv("MEDIAIMPORT_SOURCE", src)

	eff, err := LoadEffective(cwd, CLIArgs{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Source != src {
		t.Fatalf("期望 source=%q，实际=%q", src, eff.Source)
	}
}

func TestLoadEffective_InvalidEnvBool(t *testing.T) {
	cwd := t.TempDir()
	t.Setenv("MEDIAIMPORT_APPLY", "maybe")

	_, err := LoadEffective(cwd, CLIArgs{Source: "card"})
	if Code(err) != ErrCodeInvalid {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
	}
}

func TestLoadEffective_InvalidType(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), []byte(`{"source":"card","types":["image","document"]}`))

	_, err := LoadEffective(cwd, CLIArgs{})
	if Code(err) != ErrCodeInvalid {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
	}
}

func TestLoadEffective_InvalidJSON(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), []byte(`{`))

	_, err := LoadEffective(cwd, CLIArgs{Source: "card"})
	if Code(err) != ErrCodeInvalid {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
	}
}

func TestLoadEffective_InvalidLogLevel(t *testing.T) {
	cwd := t.TempDir()

	_, err := LoadEffective(cwd, CLIArgs{Source: "card", LogLevel: "loud", LogLevelSet: true})
	if Code(err) != ErrCodeInvalid {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
	}
}

func TestLoadEffective_DestinationEqualsSource(t *testing.T) {
	cwd := t.TempDir()

	_, err := LoadEffective(cwd, CLIArgs{Source: "card", Destination: "./card/", DestinationSet: true})
	if Code(err) != ErrCodeInvalid {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
	}
}

func TestEffectiveConfig_Settings(t *testing.T) {
	eff := EffectiveConfig{
		Destination:     "/lib",
		OrganizeByDate:  true,
		DeleteOriginals: true,
		Types:           domain.TypeFilters{Video: true},
	}
	s := eff.Settings()
	if s.DestinationRoot != "/lib" || !s.OrganizeByDate || !s.DeleteOriginals || s.RenameByDate || !s.Types.Video {
		t.Fatalf("Settings 转换不正确：%+v", s)
	}
}

func writeFile(t *testing.T, path string, b []byte) {
	t.Helper()
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("写入文件失败 %q：%v", path, err)
	}
}
