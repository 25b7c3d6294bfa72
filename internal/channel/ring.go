package channel

func (c *Channel) slot(i int) []byte {
	off := i * c.elem
	return c.buf[off : off+c.elem]
}

func (c *Channel) store(item []byte, front bool) {
	var dst []byte
	if front {
		c.head = (c.head - 1 + c.capacity) % c.capacity
		dst = c.slot(c.head)
	} else {
		dst = c.slot(c.tail)
		c.tail = (c.tail + 1) % c.capacity
	}
	n := copy(dst, item)
	clear(dst[n:])
	c.count++
}

func (c *Channel) drop() {
	clear(c.slot(c.head))
	c.head = (c.head + 1) % c.capacity
	c.count--
}
