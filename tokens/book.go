// Package tokens provides an in-memory multi-token balance book. It stands
// in for external token contracts: accounts hold balances per token, and
// the vault observes its own custody through a bound view.
package tokens

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance = errors.New("tokens: insufficient balance")
	ErrOverflow            = errors.New("tokens: balance overflow")
)

// Book tracks balances per token per account. Safe for concurrent use.
type Book struct {
	mu       sync.RWMutex
	balances map[common.Address]map[common.Address]*uint256.Int
}

func NewBook() *Book {
	return &Book{
		balances: make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

func (b *Book) account(token, holder common.Address) *uint256.Int {
	perHolder, ok := b.balances[token]
	if !ok {
		perHolder = make(map[common.Address]*uint256.Int)
		b.balances[token] = perHolder
	}
	bal, ok := perHolder[holder]
	if !ok {
		bal = new(uint256.Int)
		perHolder[holder] = bal
	}
	return bal
}

// Mint credits freshly created tokens to a holder.
func (b *Book) Mint(token, holder common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := b.account(token, holder)
	sum := new(uint256.Int)
	if _, overflow := sum.AddOverflow(bal, amount); overflow {
		return ErrOverflow
	}
	bal.Set(sum)
	return nil
}

// Transfer moves tokens between holders.
func (b *Book) Transfer(token, from, to common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	src := b.account(token, from)
	if src.Cmp(amount) < 0 {
		return fmt.Errorf("%w: token %s holder %s", ErrInsufficientBalance, token.Hex(), from.Hex())
	}
	src.Sub(src, amount)
	dst := b.account(token, to)
	dst.Add(dst, amount)
	return nil
}

// BalanceOf returns a holder's balance of a token.
func (b *Book) BalanceOf(token, holder common.Address) *uint256.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if perHolder, ok := b.balances[token]; ok {
		if bal, ok := perHolder[holder]; ok {
			return new(uint256.Int).Set(bal)
		}
	}
	return new(uint256.Int)
}

// View is the book as seen from one holder's perspective. It satisfies the
// custody interface the vault consumes: BalanceOf reports the holder's own
// balance and Transfer pays out of it.
type View struct {
	book   *Book
	holder common.Address
}

// ViewFor binds a holder address to the book.
func (b *Book) ViewFor(holder common.Address) *View {
	return &View{book: b, holder: holder}
}

func (v *View) BalanceOf(token common.Address) (*uint256.Int, error) {
	return v.book.BalanceOf(token, v.holder), nil
}

func (v *View) Transfer(token, to common.Address, amount *uint256.Int) error {
	return v.book.Transfer(token, v.holder, to, amount)
}
