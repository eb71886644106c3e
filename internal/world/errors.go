package world

import "errors"

// Ошибки операций над структурами и чанками
var (
	// ErrInvalidCoordinate — координата блока/чанка вне границ структуры.
	// Всегда восстанавливается локально: операция не выполняется.
	ErrInvalidCoordinate = errors.New("координата вне границ структуры")

	// ErrCoreBlockProtected — попытка удалить ядро корабля, пока на
	// структуре существуют другие блоки. Возвращается вызывающей игровой
	// системе, не фатальна.
	ErrCoreBlockProtected = errors.New("ядро корабля защищено от удаления")

	// ErrUnknownBlock — ID блока отсутствует в реестре
	ErrUnknownBlock = errors.New("неизвестный ID блока")

	// ErrUnknownStructure — структура с указанным ID не найдена в хранилище
	ErrUnknownStructure = errors.New("неизвестная структура")
)
