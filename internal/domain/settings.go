package domain

// TypeFilters 是按媒体类别的开关；unknown 永远不参与处理。
type TypeFilters struct {
	Image bool `json:"image"`
	Video bool `json:"video"`
	Audio bool `json:"audio"`
	Raw   bool `json:"raw"`
}

// AllTypes 返回全部开启的过滤器。
func AllTypes() TypeFilters {
	return TypeFilters{Image: true, Video: true, Audio: true, Raw: true}
}

// Allows 判断该类别是否被保留。
func (f TypeFilters) Allows(t MediaType) bool {
	switch t {
	case TypeImage:
		return f.Image
	case TypeVideo:
		return f.Video
	case TypeAudio:
		return f.Audio
	case TypeRaw:
		return f.Raw
	default:
		return false
	}
}

// Settings 是一次处理所用的冻结配置（按值传递，纯函数直接消费）。
type Settings struct {
	OrganizeByDate  bool
	RenameByDate    bool
	DeleteOriginals bool
	Types           TypeFilters

	// DestinationRoot 为空表示尚未选择目的地。
	DestinationRoot string
}

// HasDestination 表示是否配置了目的地根目录。
func (s Settings) HasDestination() bool {
	return s.DestinationRoot != ""
}
