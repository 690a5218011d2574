package camera

import (
	"errors"
	"fmt"
)

type slotState uint8

const (
	slotDequeued slotState = iota // owned by us
	slotQueued                    // owned by the driver
)

type bufferSlot struct {
	mem   []byte
	state slotState
}

// bufferPool tracks the mmap arena and who owns each slot. Every slot taken
// from the driver is handed back exactly once before it can be taken again.
type bufferPool struct {
	slots []bufferSlot
}

// mapBuffers maps count buffers. On failure everything already mapped is
// unmapped before returning.
func mapBuffers(h Handle, count uint32) (*bufferPool, error) {
	p := &bufferPool{slots: make([]bufferSlot, 0, count)}
	for i := uint32(0); i < count; i++ {
		mem, err := h.MapBuffer(i)
		if err != nil {
			p.unmap(h)
			return nil, err
		}
		p.slots = append(p.slots, bufferSlot{mem: mem, state: slotDequeued})
	}
	return p, nil
}

// queueAll hands every slot we own to the driver.
func (p *bufferPool) queueAll(h Handle) error {
	for i := range p.slots {
		if p.slots[i].state == slotQueued {
			continue
		}
		if err := h.QueueBuffer(uint32(i)); err != nil {
			return err
		}
		p.slots[i].state = slotQueued
	}
	return nil
}

// take marks a slot the driver returned as ours and returns its memory.
func (p *bufferPool) take(index uint32) ([]byte, error) {
	if int(index) >= len(p.slots) {
		return nil, fmt.Errorf("driver returned buffer %d of %d", index, len(p.slots))
	}
	s := &p.slots[index]
	if s.state != slotQueued {
		return nil, fmt.Errorf("driver returned buffer %d which was not queued", index)
	}
	s.state = slotDequeued
	return s.mem, nil
}

// requeue gives a taken slot back to the driver.
func (p *bufferPool) requeue(h Handle, index uint32) error {
	s := &p.slots[index]
	if s.state != slotDequeued {
		return fmt.Errorf("buffer %d already queued", index)
	}
	if err := h.QueueBuffer(index); err != nil {
		return err
	}
	s.state = slotQueued
	return nil
}

// reclaim records that STREAMOFF returned every slot to us.
func (p *bufferPool) reclaim() {
	for i := range p.slots {
		p.slots[i].state = slotDequeued
	}
}

func (p *bufferPool) queued() int {
	n := 0
	for _, s := range p.slots {
		if s.state == slotQueued {
			n++
		}
	}
	return n
}

func (p *bufferPool) unmap(h Handle) error {
	var errs []error
	for i := range p.slots {
		if p.slots[i].mem == nil {
			continue
		}
		if err := h.UnmapBuffer(p.slots[i].mem); err != nil {
			errs = append(errs, fmt.Errorf("unmap buffer %d: %w", i, err))
		}
		p.slots[i].mem = nil
	}
	return errors.Join(errs...)
}
