package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"github.com/John-Robertt/mediaimport/internal/domain"
)

const (
	// ErrCodeNotFound 表示没有给出 source 且 cwd 下没有 mediaimport.json。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件/环境变量无法读取、解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissingSource 表示 CLI、环境变量、配置文件都没有给出 source。
	ErrCodeMissingSource = "config_missing_source"
)

const (
	// FileName 是配置文件名，固定位于 cwd。
	FileName = "mediaimport.json"
	// EnvPrefix 是环境变量前缀（MEDIAIMPORT_SOURCE 等）。
	EnvPrefix = "MEDIAIMPORT"

	DefaultThumbnailCacheSize = 2000
	DefaultThumbnailSize      = 256
	DefaultLogLevel           = "info"
)

// CLIArgs 是 CLI 暴露的入口，并保留“是否显式指定”的信息。
// 这能保证覆盖优先级可实现：例如 --apply=false 必须能覆盖 apply=true。
type CLIArgs struct {
	Source string

	Destination    string
	DestinationSet bool

	Apply    bool
	ApplySet bool

	OrganizeByDate    bool
	OrganizeByDateSet bool

	RenameByDate    bool
	RenameByDateSet bool

	DeleteOriginals    bool
	DeleteOriginalsSet bool

	Types    []string
	TypesSet bool

	LogLevel    string
	LogLevelSet bool
}

// FileConfig 对应 mediaimport.json 的解析结构。未出现的字段保持零值/nil。
type FileConfig struct {
	Source             string   `json:"source"`
	Destination        string   `json:"destination"`
	Apply              *bool    `json:"apply"`
	OrganizeByDate     *bool    `json:"organize_by_date"`
	RenameByDate       *bool    `json:"rename_by_date"`
	DeleteOriginals    *bool    `json:"delete_originals"`
	Types              []string `json:"types"`
	ExcludeDirs        []string `json:"exclude_dirs"`
	CacheDir           string   `json:"cache_dir"`
	ThumbnailCacheSize int      `json:"thumbnail_cache_size"`
	ThumbnailSize      int      `json:"thumbnail_size"`
	Exiftool           *bool    `json:"exiftool"`
	LogLevel           string   `json:"log_level"`
}

// EnvConfig 是 MEDIAIMPORT_* 环境变量（envconfig 解析；未设置的指针字段保持 nil）。
type EnvConfig struct {
	Source          string   `envconfig:"SOURCE"`
	Destination     string   `envconfig:"DESTINATION"`
	Apply           *bool    `envconfig:"APPLY"`
	OrganizeByDate  *bool    `envconfig:"ORGANIZE_BY_DATE"`
	RenameByDate    *bool    `envconfig:"RENAME_BY_DATE"`
	DeleteOriginals *bool    `envconfig:"DELETE_ORIGINALS"`
	Types           []string `envconfig:"TYPES"`
	CacheDir        string   `envconfig:"CACHE_DIR"`
	Exiftool        *bool    `envconfig:"EXIFTOOL"`
	LogLevel        string   `envconfig:"LOG_LEVEL"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	Source      string
	Destination string // 为空表示只扫描，不规划目的地

	Apply           bool
	OrganizeByDate  bool
	RenameByDate    bool
	DeleteOriginals bool
	Types           domain.TypeFilters

	ExcludeDirs []string
	// CacheDir 为空表示不使用磁盘元数据缓存。
	CacheDir           string
	ThumbnailCacheSize int
	ThumbnailSize      int
	Exiftool           bool
	LogLevel           zerolog.Level

	// ConfigPath 是实际读取到的配置文件（没有读取时为空）。
	ConfigPath string
}

// Settings 转换为处理流水线使用的冻结设置。
func (c EffectiveConfig) Settings() domain.Settings {
	return domain.Settings{
		OrganizeByDate:  c.OrganizeByDate,
		RenameByDate:    c.RenameByDate,
		DeleteOriginals: c.DeleteOriginals,
		Types:           c.Types,
		DestinationRoot: c.Destination,
	}
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingSource:
		return fmt.Sprintf("%s：未指定 source（CLI 参数、%s_SOURCE、配置文件 %q 均为空）", e.Code, EnvPrefix, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 读取 <cwd>/mediaimport.json 与 MEDIAIMPORT_* 环境变量，然后与 CLI 参数合并。
//
// 发现规则（固定）：
// 1) CLI 或环境变量给出 source：配置文件可选
// 2) 否则：配置文件必选，且其中必须包含 source
//
// 覆盖优先级（固定）：CLI > 环境变量 > 配置文件 > 默认值。
// 相对路径一律以 cwd 为基准。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	var env EnvConfig
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: EnvPrefix + "_*", Err: err}
	}

	cfgPath := filepath.Join(cwdAbs, FileName)
	fc, exists, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	source := firstNonEmpty(cli.Source, env.Source, fc.Source)
	if source == "" {
		if !exists {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
		}
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingSource, Path: cfgPath}
	}
	if !exists {
		cfgPath = ""
	}
	return merge(cwdAbs, source, cli, env, fc, cfgPath)
}

func merge(cwdAbs, source string, cli CLIArgs, env EnvConfig, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	invalid := func(err error) error {
		p := cfgPath
		if p == "" {
			p = EnvPrefix + "_*"
		}
		return &Error{Code: ErrCodeInvalid, Path: p, Err: err}
	}

	dest := fc.Destination
	if env.Destination != "" {
		dest = env.Destination
	}
	if cli.DestinationSet {
		dest = cli.Destination
	}

	typeNames := fc.Types
	if len(env.Types) > 0 {
		typeNames = env.Types
	}
	if cli.TypesSet {
		typeNames = cli.Types
	}
	types := domain.AllTypes()
	if typeNames != nil {
		t, err := ParseTypes(typeNames)
		if err != nil {
			return EffectiveConfig{}, invalid(err)
		}
		types = t
	}

	levelName := firstNonEmpty(fc.LogLevel, DefaultLogLevel)
	if env.LogLevel != "" {
		levelName = env.LogLevel
	}
	if cli.LogLevelSet {
		levelName = cli.LogLevel
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(levelName)))
	if err != nil {
		return EffectiveConfig{}, invalid(fmt.Errorf("log_level 无效：%q", levelName))
	}

	thumbCache := fc.ThumbnailCacheSize
	if thumbCache < 0 {
		return EffectiveConfig{}, invalid(fmt.Errorf("thumbnail_cache_size 不能为负数：%d", thumbCache))
	}
	if thumbCache == 0 {
		thumbCache = DefaultThumbnailCacheSize
	}
	thumbSize := fc.ThumbnailSize
	if thumbSize < 0 {
		return EffectiveConfig{}, invalid(fmt.Errorf("thumbnail_size 不能为负数：%d", thumbSize))
	}
	if thumbSize == 0 {
		thumbSize = DefaultThumbnailSize
	}

	cacheDir := fc.CacheDir
	if env.CacheDir != "" {
		cacheDir = env.CacheDir
	}

	absSource := absCleanFrom(cwdAbs, source)
	absDest := absCleanFrom(cwdAbs, dest)
	if absDest != "" && absDest == absSource {
		return EffectiveConfig{}, invalid(fmt.Errorf("destination 不能与 source 相同：%q", absDest))
	}

	return EffectiveConfig{
		Source:             absSource,
		Destination:        absDest,
		Apply:              pickBool(false, fc.Apply, env.Apply, cli.ApplySet, cli.Apply),
		OrganizeByDate:     pickBool(true, fc.OrganizeByDate, env.OrganizeByDate, cli.OrganizeByDateSet, cli.OrganizeByDate),
		RenameByDate:       pickBool(false, fc.RenameByDate, env.RenameByDate, cli.RenameByDateSet, cli.RenameByDate),
		DeleteOriginals:    pickBool(false, fc.DeleteOriginals, env.DeleteOriginals, cli.DeleteOriginalsSet, cli.DeleteOriginals),
		Types:              types,
		ExcludeDirs:        append([]string(nil), fc.ExcludeDirs...),
		CacheDir:           absCleanFrom(cwdAbs, cacheDir),
		ThumbnailCacheSize: thumbCache,
		ThumbnailSize:      thumbSize,
		Exiftool:           pickBool(true, fc.Exiftool, env.Exiftool, false, false),
		LogLevel:           level,
		ConfigPath:         cfgPath,
	}, nil
}

// ParseTypes 把类别名列表（image/video/audio/raw，大小写不敏感）转换为过滤器。
// 空列表表示全部关闭；未知类别名是错误。
func ParseTypes(names []string) (domain.TypeFilters, error) {
	var f domain.TypeFilters
	for _, n := range names {
		switch domain.MediaType(strings.ToLower(strings.TrimSpace(n))) {
		case domain.TypeImage:
			f.Image = true
		case domain.TypeVideo:
			f.Video = true
		case domain.TypeAudio:
			f.Audio = true
		case domain.TypeRaw:
			f.Raw = true
		case "":
		default:
			return domain.TypeFilters{}, fmt.Errorf("types 只能是 image/video/audio/raw，实际是 %q", n)
		}
	}
	return f, nil
}

// pickBool 按 CLI > env > file > def 选取布尔值。
func pickBool(def bool, file, env *bool, cliSet, cli bool) bool {
	v := def
	if file != nil {
		v = *file
	}
	if env != nil {
		v = *env
	}
	if cliSet {
		v = cli
	}
	return v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 为空：返回空串
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 JSON 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	if err := json.Unmarshal(b, &fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
