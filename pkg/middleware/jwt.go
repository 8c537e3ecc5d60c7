package middleware

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Role はアカウントの種類を表す。
type Role string

const (
	// RoleReferee は審判アカウント。
	RoleReferee Role = "referee"
	// RoleCommissioner はコミッショナーアカウント。
	RoleCommissioner Role = "commissioner"
	// RoleAdmin は連盟の管理者アカウント。
	RoleAdmin Role = "admin"
	// RoleService は内部サービス間通信用のアカウント。
	RoleService Role = "service"
)

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
type JWTClaims struct {
	jwt.RegisteredClaims
	// AccountID は認証済みアカウントの一意識別子。審判の場合は審判IDと一致する。
	AccountID string `json:"account_id"`
	// Email はアカウントのメールアドレス。
	Email string `json:"email"`
	// Role はアカウントの種類。
	Role Role `json:"role"`
}

const (
	// contextKeyAccountID はGinコンテキストにアカウントIDを格納するキー。
	contextKeyAccountID = "account_id"
	// contextKeyRole はGinコンテキストにロールを格納するキー。
	contextKeyRole = "role"
	// tokenIssuer はトークンの発行者。
	tokenIssuer = "referee-federation"
)

// GenerateJWT はアカウント情報からJWTトークンを生成する。
// 認証サービスおよびテストから呼び出される。
func GenerateJWT(secret, accountID, email string, role Role) (string, error) {
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    tokenIssuer,
		},
		AccountID: accountID,
		Email:     email,
		Role:      role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに "account_id" と "role" を設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorizationヘッダーが必要です",
			})
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer トークン形式が不正です",
			})
			return
		}

		claims := &JWTClaims{}
		token, err := parser.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
			return []byte(secret), nil
		})
		if err != nil || !token.Valid || claims.AccountID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		SetAccount(c, claims.AccountID, claims.Role)
		c.Next()
	}
}

// RequireRole は指定されたロールのいずれかを持つアカウントのみ通過させる。
// JWTAuthの後に適用する。
func RequireRole(roles ...Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !slices.Contains(roles, GetRole(c)) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "この操作を行う権限がありません",
			})
			return
		}
		c.Next()
	}
}

// SetAccount はGinコンテキストにアカウント情報を設定する。
func SetAccount(c *gin.Context, accountID string, role Role) {
	c.Set(contextKeyAccountID, accountID)
	c.Set(contextKeyRole, role)
}

// GetAccountID はGinコンテキストからアカウントIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetAccountID(c *gin.Context) string {
	v, _ := c.Get(contextKeyAccountID)
	if id, ok := v.(string); ok {
		return id
	}
	return ""
}

// GetRole はGinコンテキストからロールを取得する。
func GetRole(c *gin.Context) Role {
	v, _ := c.Get(contextKeyRole)
	if r, ok := v.(Role); ok {
		return r
	}
	return ""
}
