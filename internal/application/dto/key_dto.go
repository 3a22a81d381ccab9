package dto

import (
	"github.com/turtacn/credcore/internal/domain/models"
)

// KeyListResponse 密钥列表响应 DTO
type KeyListResponse struct {
	Owner models.OwnerRef   `json:"owner"`
	Keys  []*models.KeyInfo `json:"keys"`
	Total int               `json:"total"`
}

// NewKeyListResponse wraps the key listing of owner.
func NewKeyListResponse(owner models.OwnerRef, keys []*models.KeyInfo) *KeyListResponse {
	if keys == nil {
		keys = []*models.KeyInfo{}
	}
	return &KeyListResponse{Owner: owner, Keys: keys, Total: len(keys)}
}
