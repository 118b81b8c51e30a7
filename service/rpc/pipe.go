package rpc

import (
	"io"
	"sync"
)

const pipeBuffer = 64

// Pipe returns two connected in-memory links. Every message is encoded and
// decoded on the way through so the peer sees exactly what a socket would
// deliver.
func Pipe() (Link, Link) {
	a := &pipeEnd{recv: make(chan []byte, pipeBuffer), done: make(chan struct{})}
	b := &pipeEnd{recv: make(chan []byte, pipeBuffer), done: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

type pipeEnd struct {
	recv chan []byte
	peer *pipeEnd
	done chan struct{}
	once sync.Once
}

func (p *pipeEnd) Send(m *Message) error {
	b, err := encodeMessage(m)
	if err != nil {
		return err
	}
	select {
	case <-p.done:
		return ErrLinkClosed
	case <-p.peer.done:
		return ErrLinkClosed
	default:
	}
	select {
	case p.peer.recv <- b:
		return nil
	case <-p.done:
		return ErrLinkClosed
	case <-p.peer.done:
		return ErrLinkClosed
	}
}

func (p *pipeEnd) Recv() (*Message, error) {
	for {
		select {
		case b := <-p.recv:
			m, err := decodeMessage(b)
			if err != nil {
				continue
			}
			return m, nil
		case <-p.done:
			return nil, io.EOF
		case <-p.peer.done:
			return nil, io.EOF
		}
	}
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
