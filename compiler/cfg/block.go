package cfg

import (
	"fmt"

	"tlog.app/go/tlog/tlwire"
)

type (
	BlockID int
	LoopID  int

	// Weight is a relative execution frequency estimate, not a probability.
	Weight float64

	BlockKind  int
	BlockFlags uint32

	// Region identifies the innermost try and handler regions of a block.
	// Zero means the method body.
	Region struct {
		Try     int `yaml:"try"`
		Handler int `yaml:"handler"`
	}

	Block struct {
		ID   BlockID
		Kind BlockKind

		// Jump is the explicit target of KindAlways and KindCond blocks.
		Jump BlockID

		Stmts []*Stmt

		// Preds is maintained explicitly by the code editing the graph.
		// It is a multiset: a block listed twice has two edges here.
		Preds []BlockID

		Weight Weight
		Flags  BlockFlags
		Loop   LoopID
		Region Region
	}
)

const (
	// KindNone falls through to the layout successor.
	KindNone BlockKind = iota
	// KindAlways jumps to Jump.
	KindAlways
	// KindCond ends with a JumpTrue statement: jumps to Jump when true, falls through otherwise.
	KindCond
	// KindReturn ends with a Return statement.
	KindReturn
	// KindThrow never returns normally.
	KindThrow
)

const (
	FlagRunRarely BlockFlags = 1 << iota
	FlagInternal
	FlagRemoved
	FlagUnreachable
)

const (
	NoBlock BlockID = -1
	NoLoop  LoopID  = -1

	ZeroWeight Weight = 0
	UnitWeight Weight = 100
)

var blockKindNames = [...]string{
	KindNone:   "none",
	KindAlways: "always",
	KindCond:   "cond",
	KindReturn: "return",
	KindThrow:  "throw",
}

func (k BlockKind) String() string {
	if int(k) < len(blockKindNames) {
		return blockKindNames[k]
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

func ParseBlockKind(s string) (BlockKind, bool) {
	for k, n := range blockKindNames {
		if n == s {
			return BlockKind(k), true
		}
	}

	return 0, false
}

func (id BlockID) String() string {
	return fmt.Sprintf("b%d", int(id))
}

func (id BlockID) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	return e.AppendInt(b, int(id))
}

func (b *Block) String() string {
	return b.ID.String()
}

func (b *Block) IsRunRarely() bool {
	return b.Flags&FlagRunRarely != 0
}

// SetRunRarely marks the block cold and zeroes its weight.
func (b *Block) SetRunRarely() {
	b.Flags |= FlagRunRarely
	b.Weight = ZeroWeight
}

// InheritWeight copies weight and rarity of o.
func (b *Block) InheritWeight(o *Block) {
	b.Weight = o.Weight

	if o.IsRunRarely() {
		b.Flags |= FlagRunRarely
	} else {
		b.Flags &^= FlagRunRarely
	}
}

// InheritWeightPercent sets weight to pct percent of o's weight.
// Rarely run or zero weight sources, and pct of zero, produce a rarely run block.
func (b *Block) InheritWeightPercent(o *Block, pct int) {
	if o.IsRunRarely() || o.Weight == ZeroWeight || pct == 0 {
		b.SetRunRarely()
		return
	}

	b.Weight = o.Weight * Weight(pct) / 100
	b.Flags &^= FlagRunRarely
}

func (b *Block) SameRegion(o *Block) bool {
	return b.Region == o.Region
}

func (b *Block) FirstStmt() *Stmt {
	if len(b.Stmts) == 0 {
		return nil
	}

	return b.Stmts[0]
}

func (b *Block) LastStmt() *Stmt {
	if len(b.Stmts) == 0 {
		return nil
	}

	return b.Stmts[len(b.Stmts)-1]
}

func (b *Block) StmtIndex(s *Stmt) int {
	for i, x := range b.Stmts {
		if x == s {
			return i
		}
	}

	return -1
}

// Append adds s to the end of the block, keeping a terminating JumpTrue or Return last.
func (b *Block) Append(s *Stmt) {
	if l := b.LastStmt(); l != nil && l.IsTerminator() {
		i := len(b.Stmts) - 1
		b.Stmts = append(b.Stmts, nil)
		copy(b.Stmts[i+1:], b.Stmts[i:])
		b.Stmts[i] = s

		return
	}

	b.Stmts = append(b.Stmts, s)
}

func (b *Block) InsertBefore(before, s *Stmt) {
	i := b.StmtIndex(before)
	if i < 0 {
		panic("statement is not in block")
	}

	b.Stmts = append(b.Stmts, nil)
	copy(b.Stmts[i+1:], b.Stmts[i:])
	b.Stmts[i] = s
}

func (b *Block) RemoveStmt(s *Stmt) {
	i := b.StmtIndex(s)
	if i < 0 {
		panic("statement is not in block")
	}

	b.Stmts = append(b.Stmts[:i], b.Stmts[i+1:]...)
}

// HasPred reports the number of edges from p to b.
func (b *Block) HasPred(p BlockID) (n int) {
	for _, x := range b.Preds {
		if x == p {
			n++
		}
	}

	return n
}
