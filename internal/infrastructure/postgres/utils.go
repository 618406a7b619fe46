package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jhoicas/Facturacion-api/internal/domain"
)

// isUniqueViolation verifica si un error es una violación de constraint único (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isInvalidUUID verifica si el id no tiene formato UUID (22P02).
func isInvalidUUID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

// notFoundIfInvalid traduce ids mal formados a domain.ErrNotFound.
func notFoundIfInvalid(err error, what, id string) error {
	if isInvalidUUID(err) {
		return errors.Join(domain.ErrNotFound, errors.New(what+" "+id+": id inválido"))
	}
	return err
}
