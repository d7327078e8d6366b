package policy

import (
	"github.com/btcsuite/btcd/txscript"

	"github.com/uncomputable/tappy/errs"
)

// Script compiles the policy into a tapscript leaf script.
//
// Every fragment has a plain form that leaves a truth value on the stack and
// a verify form that leaves nothing and aborts on failure. and(X,Y) runs X in
// verify form before Y, or(X,Y) selects a branch with OP_IF, and thresh sums
// one OP_IF per sub-policy on the alt stack before comparing with K.
func (n *Node) Script() ([]byte, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}

	builder := txscript.NewScriptBuilder()
	n.build(builder, false)

	script, err := builder.Script()
	if err != nil {
		return nil, errs.ErrInvalidPolicy.Wrap(err)
	}
	return script, nil
}

func (n *Node) build(b *txscript.ScriptBuilder, verify bool) {
	switch n.Fragment {
	case FragmentPk:
		b.AddData(n.Key)
		b.AddOp(pick(verify, txscript.OP_CHECKSIGVERIFY, txscript.OP_CHECKSIG))

	case FragmentSha256:
		b.AddOp(txscript.OP_SIZE)
		b.AddInt64(32)
		b.AddOp(txscript.OP_EQUALVERIFY)
		b.AddOp(txscript.OP_SHA256)
		b.AddData(n.Image[:])
		b.AddOp(pick(verify, txscript.OP_EQUALVERIFY, txscript.OP_EQUAL))

	case FragmentOlder, FragmentAfter:
		b.AddInt64(int64(n.Value))
		if n.Fragment == FragmentOlder {
			b.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
		} else {
			b.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
		}
		if verify {
			b.AddOp(txscript.OP_DROP)
		}

	case FragmentAnd:
		n.Subs[0].build(b, true)
		n.Subs[1].build(b, verify)

	case FragmentOr:
		b.AddOp(txscript.OP_IF)
		n.Subs[0].build(b, verify)
		b.AddOp(txscript.OP_ELSE)
		n.Subs[1].build(b, verify)
		b.AddOp(txscript.OP_ENDIF)

	case FragmentThresh:
		for i, sub := range n.Subs {
			b.AddOp(txscript.OP_IF)
			sub.build(b, true)
			b.AddOp(txscript.OP_1)
			b.AddOp(txscript.OP_ELSE)
			b.AddOp(txscript.OP_0)
			b.AddOp(txscript.OP_ENDIF)
			if i > 0 {
				b.AddOp(txscript.OP_FROMALTSTACK)
				b.AddOp(txscript.OP_ADD)
			}
			b.AddOp(txscript.OP_TOALTSTACK)
		}
		b.AddOp(txscript.OP_FROMALTSTACK)
		b.AddInt64(int64(n.Value))
		b.AddOp(pick(verify, txscript.OP_NUMEQUALVERIFY, txscript.OP_NUMEQUAL))
	}
}

func pick(verify bool, ifVerify, otherwise byte) byte {
	if verify {
		return ifVerify
	}
	return otherwise
}
