package document

// Resolve сводит две версии одного логического документа к одной:
// побеждает версия со строго большим updatedAt, целиком (пополевое слияние
// не выполняется). При равных отметках времени побеждает серверная версия —
// правило остается детерминированным и идемпотентным при повторном применении.
//
// Чистая функция: аргументы не изменяются, возвращается один из них.
func Resolve(local, server *Document) *Document {
	if local == nil {
		return server
	}
	if server == nil {
		return local
	}
	if local.UpdatedAt.After(server.UpdatedAt) {
		return local
	}
	return server
}

// ServerWins сообщает, победит ли серверная версия при разрешении конфликта.
func ServerWins(local, server *Document) bool {
	return Resolve(local, server) == server
}
