// Package policy implements the spending-policy language used by tappy
// descriptors.
//
// A policy is a tree of fragments:
//
//	pk(KEY)            signature for a 32-byte x-only key
//	sha256(IMAGE)      preimage of a 32-byte SHA-256 image
//	older(N)           relative timelock, BIP68 encoded
//	after(N)           absolute timelock, BIP65 encoded
//	and(X,Y)           both X and Y
//	or(X,Y)            either X or Y
//	thresh(K,X1,...)   at least K of the sub-policies
//
// A policy compiles to a single tapscript leaf and can be satisfied given a
// Satisfier that answers signature, preimage and timelock queries.
package policy

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

type Fragment uint8

const (
	FragmentPk Fragment = iota + 1
	FragmentSha256
	FragmentOlder
	FragmentAfter
	FragmentAnd
	FragmentOr
	FragmentThresh
)

var fragmentNames = map[Fragment]string{
	FragmentPk:     "pk",
	FragmentSha256: "sha256",
	FragmentOlder:  "older",
	FragmentAfter:  "after",
	FragmentAnd:    "and",
	FragmentOr:     "or",
	FragmentThresh: "thresh",
}

func (f Fragment) String() string {
	if name, ok := fragmentNames[f]; ok {
		return name
	}
	return fmt.Sprintf("fragment(%d)", uint8(f))
}

// Node is one fragment of a policy tree.
type Node struct {
	Fragment Fragment

	// Key is the x-only public key of a pk fragment.
	Key []byte

	// Image is the hash lock of a sha256 fragment.
	Image [32]byte

	// Value is the lock value of older/after or the threshold of thresh.
	Value uint32

	Subs []*Node
}

func Pk(key []byte) *Node {
	return &Node{Fragment: FragmentPk, Key: key}
}

func Sha256(image [32]byte) *Node {
	return &Node{Fragment: FragmentSha256, Image: image}
}

func Older(n uint32) *Node {
	return &Node{Fragment: FragmentOlder, Value: n}
}

func After(n uint32) *Node {
	return &Node{Fragment: FragmentAfter, Value: n}
}

func And(x, y *Node) *Node {
	return &Node{Fragment: FragmentAnd, Subs: []*Node{x, y}}
}

func Or(x, y *Node) *Node {
	return &Node{Fragment: FragmentOr, Subs: []*Node{x, y}}
}

func Thresh(k uint32, subs ...*Node) *Node {
	return &Node{Fragment: FragmentThresh, Value: k, Subs: subs}
}

// String returns the canonical text form, which Parse accepts.
func (n *Node) String() string {
	var sb strings.Builder
	n.write(&sb)
	return sb.String()
}

func (n *Node) write(sb *strings.Builder) {
	sb.WriteString(n.Fragment.String())
	sb.WriteByte('(')

	switch n.Fragment {
	case FragmentPk:
		sb.WriteString(hex.EncodeToString(n.Key))
	case FragmentSha256:
		sb.WriteString(hex.EncodeToString(n.Image[:]))
	case FragmentOlder, FragmentAfter:
		sb.WriteString(strconv.FormatUint(uint64(n.Value), 10))
	case FragmentThresh:
		sb.WriteString(strconv.FormatUint(uint64(n.Value), 10))
		for _, sub := range n.Subs {
			sb.WriteByte(',')
			sub.write(sb)
		}
	default:
		for i, sub := range n.Subs {
			if i > 0 {
				sb.WriteByte(',')
			}
			sub.write(sb)
		}
	}

	sb.WriteByte(')')
}

// Keys returns the x-only keys referenced by the policy, in order of
// appearance.
func (n *Node) Keys() [][]byte {
	var keys [][]byte
	n.walk(func(node *Node) {
		if node.Fragment == FragmentPk {
			keys = append(keys, node.Key)
		}
	})
	return keys
}

// Images returns the hash locks referenced by the policy, in order of
// appearance.
func (n *Node) Images() [][32]byte {
	var images [][32]byte
	n.walk(func(node *Node) {
		if node.Fragment == FragmentSha256 {
			images = append(images, node.Image)
		}
	})
	return images
}

func (n *Node) walk(f func(*Node)) {
	f(n)
	for _, sub := range n.Subs {
		sub.walk(f)
	}
}
