package ws

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

// rocket-multiplex 子协议常量。
// 分隔符 U+00B7（MIDDLE DOT）是合法 UTF-8 可打印字符，但在 URI 中
// 必须百分号转义才能出现，因此主题与分隔符之间不存在歧义。
const (
	multiplexProtocol = "rocket-multiplex"
	multiplexSep      = "·" // UTF-8 编码为 0xC2 0xB7 两字节
	maxTopicLen       = 100      // 数据消息中主题部分的最大字节数
	maxControlLen     = 512      // 控制消息的最大字节数
	topicPeekLen      = maxTopicLen + len(multiplexSep)
)

// 协议应答字符串（客户端可见字节）
const (
	replyAlreadySubscribed = "ERR" + multiplexSep + "Already Subscribed"
	replyNotSubscribed     = "ERR" + multiplexSep + "Not Subscribed"
	replyLastTopic         = "ERR" + multiplexSep + "Cannot unsubscribe last topic"
	replyMissingTopic      = "ERR" + multiplexSep + "Missing topic parameter"
	replyTooManyArguments  = "ERR" + multiplexSep + "Too many arguments"
	replyInvalidTopicURI   = "ERR" + multiplexSep + "Invalid topic URI"
	replyBadFormat         = "INVALID" + multiplexSep + "Improperly formatted message"
	replyUnknownControl    = "INVALID" + multiplexSep + "Unknown control message"
	replyDataNotSubscribed = "INVALID" + multiplexSep + "Not Subscribed"
	replyTopicNotPresent   = "INVALID" + multiplexSep + "Topic not present"
)

// classKind 入站数据消息的归类
type classKind uint8

const (
	classControl classKind = iota
	classData
	classNotSubscribed
	classTopicNotPresent
)

// classifyData 对多路复用连接的入站数据消息归类。
// 窥探前 topicPeekLen 字节并扫描分隔符：
// 偏移 0 → 控制消息（不消费任何字节）；
// 偏移 i>0 → 消费主题前缀，按订阅集匹配，剩余字节即该主题的载荷；
// 窗口内无分隔符 → 主题缺失或超长。
func classifyData(d *Data, lookup func(Topic) *Conn) (classKind, *Conn, error) {
	window, err := d.Peek(topicPeekLen)
	if err != nil {
		return 0, nil, err
	}
	i := bytes.Index(window, []byte(multiplexSep))
	if i == 0 {
		return classControl, nil, nil
	}
	if i < 0 {
		return classTopicNotPresent, nil, nil
	}

	raw, err := d.Take(i + len(multiplexSep))
	if err != nil {
		return 0, nil, err
	}
	topic, terr := ParseTopic(string(raw[:i]))
	if terr != nil {
		// 解析不出的主题不可能命中任何订阅
		return classNotSubscribed, nil, nil
	}
	if conn := lookup(topic); conn != nil {
		return classData, conn, nil
	}
	return classNotSubscribed, nil, nil
}

// controlAction 控制消息解析结果
type controlAction struct {
	subscribe bool
	topic     Topic
}

// parseControl 解析控制消息。
// 取整条消息的前 maxControlLen 字节（协议规定控制消息不超过该长度），
// 按分隔符切分：首段必须为空，动作后恰好跟一个主题参数。
// reply 非空表示协议层错误，原样作为文本消息回发，连接保持打开。
func parseControl(d *Data) (act controlAction, reply string, err error) {
	raw, err := d.Take(maxControlLen)
	if err != nil {
		return controlAction{}, "", err
	}
	if !utf8.Valid(raw) {
		return controlAction{}, replyBadFormat, nil
	}

	parts := strings.Split(string(raw), multiplexSep)
	if len(parts) < 2 || parts[0] != "" || parts[1] == "" {
		return controlAction{}, replyBadFormat, nil
	}

	switch parts[1] {
	case "SUBSCRIBE", "UNSUBSCRIBE":
		if len(parts) < 3 {
			return controlAction{}, replyMissingTopic, nil
		}
		if len(parts) > 3 {
			return controlAction{}, replyTooManyArguments, nil
		}
		topic, terr := ParseTopic(parts[2])
		if terr != nil {
			return controlAction{}, replyInvalidTopicURI, nil
		}
		return controlAction{subscribe: parts[1] == "SUBSCRIBE", topic: topic}, "", nil
	default:
		return controlAction{}, replyUnknownControl, nil
	}
}

// topicPrefix 出站扇出时拼接的主题头
func topicPrefix(topic Topic) []byte {
	return []byte(topic.Key() + multiplexSep)
}

// subscribeFailureReply Join 失败时回发给客户端的状态转述
func subscribeFailureReply(s Status) string {
	return "ERR" + multiplexSep + s.String()
}
