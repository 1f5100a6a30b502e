package wal

// This file is the typed append API the engine calls: one method per
// record family, each encoding its payload and delegating to Append.

func (l *Logger) LogBeginTxn(r BeginTxn) (uint64, error) { return l.Append(RecBeginTxn, r.encode()) }
func (l *Logger) LogCommitTxn(r CommitTxn) (uint64, error) {
	return l.Append(RecCommitTxn, r.encode())
}
func (l *Logger) LogCheckpoint() (uint64, error) { return l.Append(RecCheckpoint, nil) }

func (l *Logger) LogFCreate(r FCreate) (uint64, error) { return l.Append(RecFCreate, r.encode()) }
func (l *Logger) LogFOpen(r FOpen) (uint64, error)     { return l.Append(RecFOpen, r.encode()) }
func (l *Logger) LogFHeader(r FHeader) (uint64, error) { return l.Append(RecFHeader, r.encode()) }

func (l *Logger) LogNewBRTNode(r NewBRTNode) (uint64, error) {
	return l.Append(RecNewBRTNode, r.encode())
}

func (l *Logger) LogAddChild(r AddChild) (uint64, error) { return l.Append(RecAddChild, r.encode()) }
func (l *Logger) LogDelChild(r DelChild) (uint64, error) { return l.Append(RecDelChild, r.encode()) }
func (l *Logger) LogSetChild(r SetChild) (uint64, error) { return l.Append(RecSetChild, r.encode()) }
func (l *Logger) LogSetPivot(r SetPivot) (uint64, error) { return l.Append(RecSetPivot, r.encode()) }
func (l *Logger) LogChangeChildFingerprint(r ChangeChildFingerprint) (uint64, error) {
	return l.Append(RecChangeChildFingerprint, r.encode())
}
func (l *Logger) LogBRTEnq(r BRTEnq) (uint64, error) { return l.Append(RecBRTEnq, r.encode()) }
func (l *Logger) LogBRTDeq(r BRTDeq) (uint64, error) { return l.Append(RecBRTDeq, r.encode()) }

func (l *Logger) LogInsertInLeaf(r InsertInLeaf) (uint64, error) {
	return l.Append(RecInsertInLeaf, r.encode())
}
func (l *Logger) LogDeleteInLeaf(r DeleteInLeaf) (uint64, error) {
	return l.Append(RecDeleteInLeaf, r.encode())
}
func (l *Logger) LogResizePMA(r ResizePMA) (uint64, error) {
	return l.Append(RecResizePMA, r.encode())
}
func (l *Logger) LogPMADistribute(r PMADistribute) (uint64, error) {
	return l.Append(RecPMADistribute, r.encode())
}

func (l *Logger) LogChangeUnnamedRoot(r ChangeUnnamedRoot) (uint64, error) {
	return l.Append(RecChangeUnnamedRoot, r.encode())
}
func (l *Logger) LogChangeNamedRoot(r ChangeNamedRoot) (uint64, error) {
	return l.Append(RecChangeNamedRoot, r.encode())
}
func (l *Logger) LogChangeUnusedMemory(r ChangeUnusedMemory) (uint64, error) {
	return l.Append(RecChangeUnusedMemory, r.encode())
}
