package backend

import (
	"errors"
	"fmt"
)

// TransportError - недоступность сервиса данных. Отличается от пустой
// выборки: пустой результат - это успех, транспортная ошибка - повод
// сохранить последний удачный снапшот и повторить позже.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("backend: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport сообщает, является ли ошибка транспортной
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
