package ws

import "io"

// Data 数据消息的流式载荷。
// 读泵按帧边界逐块投递，处理器可在消息尚未完整到达时开始消费；
// 同一消息只会被消费一次，分发结束后由会话负责 Discard 剩余字节。
type Data struct {
	binary bool
	ch     chan []byte
	buf    []byte
	eof    bool
	err    error // 传输中断时由读泵在关闭通道前写入
}

// newData 构造一条流式载荷，通道容量 1：
// 读泵最多先行一块，背压直接传导到对端
func newData(binary bool) *Data {
	return &Data{binary: binary, ch: make(chan []byte, 1)}
}

// finish 读泵在消息结束（或传输失败）时调用，且仅调用一次
func (d *Data) finish(err error) {
	d.err = err
	close(d.ch)
}

// IsBinary 载荷是否为二进制消息
func (d *Data) IsBinary() bool {
	return d.binary
}

// fill 阻塞拉取块直到缓冲至少 n 字节或消息结束
func (d *Data) fill(n int) error {
	for len(d.buf) < n && !d.eof {
		chunk, ok := <-d.ch
		if !ok {
			d.eof = true
			return d.err
		}
		d.buf = append(d.buf, chunk...)
	}
	return nil
}

// Peek 返回前 n 字节但不消费；消息不足 n 字节时返回实际可得部分。
// 返回的切片在下一次调用任何方法前有效。
func (d *Data) Peek(n int) ([]byte, error) {
	if err := d.fill(n); err != nil {
		return nil, err
	}
	if n > len(d.buf) {
		n = len(d.buf)
	}
	return d.buf[:n], nil
}

// Take 消费并返回前 n 字节；消息不足 n 字节时返回实际可得部分
func (d *Data) Take(n int) ([]byte, error) {
	if err := d.fill(n); err != nil {
		return nil, err
	}
	if n > len(d.buf) {
		n = len(d.buf)
	}
	out := make([]byte, n)
	copy(out, d.buf[:n])
	d.buf = d.buf[n:]
	return out, nil
}

// Read 实现 io.Reader，顺序消费剩余载荷
func (d *Data) Read(p []byte) (int, error) {
	if len(d.buf) == 0 {
		if d.eof {
			if d.err != nil {
				return 0, d.err
			}
			return 0, io.EOF
		}
		chunk, ok := <-d.ch
		if !ok {
			d.eof = true
			if d.err != nil {
				return 0, d.err
			}
			return 0, io.EOF
		}
		d.buf = chunk
	}
	n := copy(p, d.buf)
	d.buf = d.buf[n:]
	return n, nil
}

// Bytes 读尽剩余载荷并一次性返回
func (d *Data) Bytes() ([]byte, error) {
	for !d.eof {
		chunk, ok := <-d.ch
		if !ok {
			d.eof = true
			if d.err != nil {
				return nil, d.err
			}
			break
		}
		d.buf = append(d.buf, chunk...)
	}
	out := d.buf
	d.buf = nil
	return out, nil
}

// Discard 丢弃剩余载荷，解除读泵阻塞。
// 对已结束的消息重复调用无副作用。
func (d *Data) Discard() {
	d.buf = nil
	for !d.eof {
		if _, ok := <-d.ch; !ok {
			d.eof = true
		}
	}
}
