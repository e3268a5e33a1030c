package crypto

import (
	"github.com/golang-jwt/jwt/v5"
)

// Header names carried by every session token.
// 每个会话令牌携带的头部字段名。
const (
	// HeaderKeyID names the signing key. The key id is stable across rotations.
	// HeaderKeyID 指明签名密钥，密钥 ID 在轮换之间保持不变。
	HeaderKeyID = "kid"
	// HeaderMaterialVersion names the material generation of the signing key.
	// HeaderMaterialVersion 指明签名密钥的材料代数。
	HeaderMaterialVersion = "kver"
)

// sessionClaims is the JWT body of a session token.
// sessionClaims 是会话令牌的 JWT 主体。
type sessionClaims struct {
	jwt.RegisteredClaims
	// Generation is the session store generation the token was issued under.
	// Generation 是签发令牌时会话存储的代数。
	Generation int64 `json:"gen"`
}
