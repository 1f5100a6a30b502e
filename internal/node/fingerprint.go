package node

import "hash/crc32"

// MessageCRC32 is the per-message contribution folded into a node's local
// fingerprint. It is not a cryptographic hash; its only job is to catch
// structural-accounting bugs (spec §3, "Fingerprints (integrity)").
func MessageCRC32(m Message) uint32 {
	h := crc32.NewIEEE()
	h.Write([]byte{byte(m.Type)})
	writeLenPrefixed(h, m.Key)
	writeLenPrefixed(h, m.Value)
	var txnBuf [8]byte
	putUint64(txnBuf[:], uint64(m.Txn))
	h.Write(txnBuf[:])
	return h.Sum32()
}

// EntryCRC32 is the per-pair contribution folded into a leaf's local
// fingerprint.
func EntryCRC32(e LeafEntry) uint32 {
	h := crc32.NewIEEE()
	writeLenPrefixed(h, e.Key)
	writeLenPrefixed(h, e.Value)
	return h.Sum32()
}

func writeLenPrefixed(h interface{ Write([]byte) (int, error) }, b []byte) {
	var lb [4]byte
	putUint32(lb[:], uint32(len(b)))
	h.Write(lb[:])
	if len(b) > 0 {
		h.Write(b)
	}
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
}

// RecomputeLeafFingerprint recomputes salt * sum(CRC32(entry)) over the
// leaf's current contents, per spec §3/§8.
func RecomputeLeafFingerprint(l *Leaf) uint32 {
	var sum uint32
	for _, e := range l.Entries {
		sum += EntryCRC32(e)
	}
	return l.Salt * sum
}

// RecomputeInternalFingerprint recomputes salt * sum(CRC32(message)) over
// the messages currently buffered in this node (across all children).
func RecomputeInternalFingerprint(n *Internal) uint32 {
	var sum uint32
	for _, c := range n.Children {
		if c.Buffer == nil {
			continue
		}
		c.Buffer.Each(func(m Message) {
			sum += MessageCRC32(m)
		})
	}
	return n.Salt * sum
}

// SubtreeFingerprint computes child.local_fingerprint plus the sum of the
// child's own subtree fingerprints, per spec §3. leafFP/internalFP are the
// child's LocalFP and (if internal) the sum of its ChildSlot
// SubtreeFingerprints, supplied by the caller since this package does not
// know which concrete node a ChildSlot.Child offset refers to.
func SubtreeFingerprint(childLocalFP uint32, childIsLeaf bool, childSubtreeSum uint32) uint32 {
	if childIsLeaf {
		return childLocalFP
	}
	return childLocalFP + childSubtreeSum
}
