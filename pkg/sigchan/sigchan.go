package sigchan

// Chan 非阻塞信号 channel：只通知事件发生，不携带数据。
// 行情更新合并时使用——高频信号合并成一次处理。
type Chan struct {
	c chan struct{}
}

// New 创建信号 channel
func New(bufferSize int) *Chan {
	return &Chan{
		c: make(chan struct{}, bufferSize),
	}
}

// Emit 发送信号；channel 已满时丢弃（非阻塞）
func (c *Chan) Emit() {
	select {
	case c.c <- struct{}{}:
	default:
	}
}

// C 返回内部 channel，供 select 使用
func (c *Chan) C() <-chan struct{} {
	return c.c
}
