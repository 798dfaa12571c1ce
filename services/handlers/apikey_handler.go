package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/lac-hong-legacy/sentinel_api/dto"
	"github.com/lac-hong-legacy/sentinel_api/shared"
)

type APIKeyHandler struct {
	keySvc APIKeyServiceInterface
}

func NewAPIKeyHandler(keySvc APIKeyServiceInterface) *APIKeyHandler {
	return &APIKeyHandler{keySvc: keySvc}
}

// @Summary Create API key (Admin)
// @Description Issue a new API key. The plaintext secret is returned once and never again (admin only)
// @Tags api-keys
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param createRequest body dto.CreateAPIKeyRequest true "Key parameters"
// @Success 201 {object} shared.Response{data=dto.CreateAPIKeyResponse}
// @Router /api/v1/admin/api-keys [post]
func (h *APIKeyHandler) CreateKey(c *fiber.Ctx) error {
	var req dto.CreateAPIKeyRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.ResponseJSON(c, http.StatusBadRequest, "Invalid request", err.Error())
	}

	if err := req.Validate(); err != nil {
		validationResp := dto.CreateValidationErrorResponse(err)
		return c.Status(fiber.StatusBadRequest).JSON(validationResp)
	}

	resp, err := h.keySvc.CreateKey(req)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusCreated, "API key created successfully", resp)
}

// @Summary List API keys (Admin)
// @Description Get metadata for all issued keys, newest first (admin only)
// @Tags api-keys
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Success 200 {object} shared.Response{data=dto.APIKeyListResponse}
// @Router /api/v1/admin/api-keys [get]
func (h *APIKeyHandler) ListKeys(c *fiber.Ctx) error {
	keys := h.keySvc.ListKeys()

	return shared.ResponseJSON(c, fiber.StatusOK, "API keys retrieved successfully", dto.APIKeyListResponse{
		Keys:  keys,
		Total: len(keys),
	})
}

// @Summary Get API key (Admin)
// @Description Get metadata for one key. The secret is not recoverable (admin only)
// @Tags api-keys
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param keyId path string true "Key ID"
// @Success 200 {object} shared.Response{data=dto.APIKeyInfo}
// @Router /api/v1/admin/api-keys/{keyId} [get]
func (h *APIKeyHandler) GetKey(c *fiber.Ctx) error {
	keyID := c.Params("keyId")
	if keyID == "" {
		return shared.ResponseJSON(c, http.StatusBadRequest, "Key ID is required", nil)
	}

	info, found := h.keySvc.GetKey(keyID)
	if !found {
		return shared.ResponseJSON(c, http.StatusNotFound, "API key not found", nil)
	}

	return shared.ResponseJSON(c, http.StatusOK, "API key retrieved successfully", info)
}

// @Summary Revoke API key (Admin)
// @Description Permanently revoke a key. Revocation is terminal (admin only)
// @Tags api-keys
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Admin Bearer Token" default(Bearer <admin_token>)
// @Param keyId path string true "Key ID"
// @Success 200 {object} shared.Response{data=nil}
// @Router /api/v1/admin/api-keys/{keyId} [delete]
func (h *APIKeyHandler) RevokeKey(c *fiber.Ctx) error {
	keyID := c.Params("keyId")
	if keyID == "" {
		return shared.ResponseJSON(c, http.StatusBadRequest, "Key ID is required", nil)
	}

	if !h.keySvc.RevokeKey(keyID) {
		return shared.ResponseJSON(c, http.StatusNotFound, "API key not found or not active", nil)
	}

	return shared.ResponseJSON(c, http.StatusOK, "API key revoked successfully", nil)
}
