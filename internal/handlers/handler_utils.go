package handlers

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/viniciusmb/trampo-backend/internal/domain"
)

func getUserUUID(c *fiber.Ctx) (uuid.UUID, error) {
	v := c.Locals("userId")
	if v == nil {
		return uuid.Nil, fmt.Errorf("unauthorized")
	}

	switch t := v.(type) {
	case uuid.UUID:
		return t, nil
	case string:
		return uuid.Parse(t)
	case []byte:
		return uuid.ParseBytes(t)
	default:
		return uuid.Nil, fmt.Errorf("invalid userId type: %T", v)
	}
}

// sessionFrom builds the explicit session every core operation receives.
func sessionFrom(c *fiber.Ctx) (domain.Session, error) {
	uid, err := getUserUUID(c)
	if err != nil {
		return domain.Session{}, err
	}
	role, _ := c.Locals("role").(string)
	return domain.Session{UserID: uid, Role: role}, nil
}

// respondErr maps the error taxonomy onto HTTP statuses. Terminal kinds are
// surfaced verbatim for user-facing messaging; StateConflict tells the
// caller to re-fetch; StoreUnavailable may be retried by the caller.
func respondErr(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	msg := "Erro interno. Tente novamente."

	switch {
	case errors.Is(err, domain.ErrInvalidDate):
		status, msg = fiber.StatusBadRequest, "A data deve ser no futuro."
	case errors.Is(err, domain.ErrInvalidPrice):
		status, msg = fiber.StatusBadRequest, "Informe um valor valido para o servico."
	case errors.Is(err, domain.ErrInvalidPayment):
		status, msg = fiber.StatusBadRequest, "Forma de pagamento invalida."
	case errors.Is(err, domain.ErrEmptyContent):
		status, msg = fiber.StatusBadRequest, "Digite uma mensagem."
	case errors.Is(err, domain.ErrMissingReason):
		status, msg = fiber.StatusBadRequest, "Informe o motivo da recusa."
	case errors.Is(err, domain.ErrForbidden):
		status, msg = fiber.StatusForbidden, "Acesso negado."
	case errors.Is(err, domain.ErrNotFound):
		status, msg = fiber.StatusNotFound, "Registro nao encontrado."
	case errors.Is(err, domain.ErrInvalidState):
		status, msg = fiber.StatusConflict, "Operacao nao permitida no estado atual."
	case errors.Is(err, domain.ErrStateConflict):
		status, msg = fiber.StatusConflict, "O registro foi alterado por outra operacao. Atualize e tente novamente."
	case errors.Is(err, domain.ErrChatLocked):
		status, msg = fiber.StatusLocked, "Este chat foi encerrado."
	case errors.Is(err, domain.ErrStoreUnavailable):
		status, msg = fiber.StatusServiceUnavailable, "Servico temporariamente indisponivel."
	}

	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"message": msg,
	})
}
