package ws

import (
	"net/url"
	"strings"
)

// Topic 发布/订阅主题，取值为 origin 形式（/path?query）或绝对 URI。
// 创建后不可变；订阅、路由与代理注册全部以规范化后的 Key 比较，
// 避免同一主题因书写差异（大小写、默认端口）而路由失败。
type Topic struct {
	raw   string
	key   string
	path  string
	query string
}

// ParseTopic 解析主题 URI。
// 接受 origin 形式（以 / 开头）与带 scheme+host 的绝对形式；
// 规范化规则：scheme 与 host 小写、去默认端口、空路径补 /、丢弃 fragment。
func ParseTopic(s string) (Topic, error) {
	if s == "" {
		return Topic{}, ErrInvalidTopic
	}
	// 分隔符在 URI 中必须以百分号转义出现，裸分隔符直接拒绝
	if strings.Contains(s, multiplexSep) {
		return Topic{}, ErrInvalidTopic
	}

	u, err := url.Parse(s)
	if err != nil {
		return Topic{}, ErrInvalidTopic
	}

	if u.Scheme == "" {
		// origin 形式
		if u.Host != "" || !strings.HasPrefix(s, "/") {
			return Topic{}, ErrInvalidTopic
		}
		path := u.EscapedPath()
		if path == "" {
			path = "/"
		}
		key := path
		if u.RawQuery != "" {
			key += "?" + u.RawQuery
		}
		return Topic{raw: s, key: key, path: u.Path, query: u.RawQuery}, nil
	}

	// 绝对形式
	if u.Host == "" {
		return Topic{}, ErrInvalidTopic
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && port != defaultPort(scheme) {
		host += ":" + port
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	key := scheme + "://" + host + path
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	p := u.Path
	if p == "" {
		p = "/"
	}
	return Topic{raw: s, key: key, path: p, query: u.RawQuery}, nil
}

// defaultPort 各 scheme 的默认端口，规范化时剥除
func defaultPort(scheme string) string {
	switch scheme {
	case "http", "ws":
		return "80"
	case "https", "wss":
		return "443"
	default:
		return ""
	}
}

// String 返回原始主题字符串
func (t Topic) String() string {
	return t.raw
}

// Key 返回规范化后的比较键，作为代理与订阅表的主键
func (t Topic) Key() string {
	return t.key
}

// Path 返回用于路由匹配的路径部分
func (t Topic) Path() string {
	return t.path
}

// Query 返回原始查询串
func (t Topic) Query() string {
	return t.query
}

// Equal 按规范化键比较两个主题
func (t Topic) Equal(o Topic) bool {
	return t.key == o.key
}

// IsZero 主题是否未初始化
func (t Topic) IsZero() bool {
	return t.key == ""
}
