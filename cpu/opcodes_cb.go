package cpu

// executeCB decodes the CB-prefixed extended table. Unlike the primary
// table, every CB opcode is fully regular: bits 6-7 select the operation
// group, bits 3-5 select which operation within rotate/shift, and bits
// 0-2 select the operand register via the same field used by the
// regular LD/ALU blocks. This regularity means the M-cycle cost falls
// out naturally from the bus accesses readReg8/writeReg8 make: BIT b,r
// is 2 M-cycles (fetch+fetch, register form) or 3 ((HL) form, one extra
// read); RES/SET/rotate forms are 2 or 4, since the (HL) form reads
// and writes.
func (c *CPU) executeCB(opcode uint8) {
	regIdx := opcode & 0x07
	op := (opcode >> 3) & 0x07
	group := (opcode >> 6) & 0x03

	switch group {
	case 0: // rotate/shift/swap
		v := c.readReg8(regIdx)
		var result uint8
		switch op {
		case 0:
			result = c.rlc(v, true)
		case 1:
			result = c.rrc(v, true)
		case 2:
			result = c.rl(v, true)
		case 3:
			result = c.rr(v, true)
		case 4:
			result = c.sla(v)
		case 5:
			result = c.sra(v)
		case 6:
			result = c.swap(v)
		case 7:
			result = c.srl(v)
		}
		c.writeReg8(regIdx, result)
	case 1: // BIT op,reg
		c.bitTest(op, c.readReg8(regIdx))
	case 2: // RES op,reg
		c.writeReg8(regIdx, c.readReg8(regIdx)&^(1<<op))
	case 3: // SET op,reg
		c.writeReg8(regIdx, c.readReg8(regIdx)|(1<<op))
	}
}
