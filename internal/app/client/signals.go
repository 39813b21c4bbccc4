package client

// SignalKind — вид пользовательского сигнала, порождаемого ядром.
// Ядро не занимается отрисовкой: CLI подписывается и решает, как показать.
type SignalKind int

const (
	// SignalSaved — запись принята сервером и отражена в кэше.
	SignalSaved SignalKind = iota
	// SignalSavedOffline — запись сохранена локально, будет синхронизирована.
	SignalSavedOffline
	// SignalSynced — движок репликации отправил N отложенных изменений.
	SignalSynced
	// SignalOfflineMode — данные показываются из кэша, сети нет.
	SignalOfflineMode
)

type Signal struct {
	Kind       SignalKind
	Collection string
	ID         string
	Count      int
	Err        error
}

// SignalFunc получает сигналы ядра. Может быть nil.
type SignalFunc func(Signal)

func (f SignalFunc) emit(s Signal) {
	if f != nil {
		f(s)
	}
}
