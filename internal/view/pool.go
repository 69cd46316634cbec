package view

import (
	"bytes"
	"sync"
)

type bufferPool struct {
	pool sync.Pool
}

var bufPool = &bufferPool{pool: sync.Pool{New: func() interface{} { return new(bytes.Buffer) }}}

func (p *bufferPool) Get() *bytes.Buffer {
	buf := p.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func (p *bufferPool) Put(buf *bytes.Buffer) {
	buf.Reset()
	p.pool.Put(buf)
}
