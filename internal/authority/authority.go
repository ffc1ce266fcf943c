// Package authority реализует детерминированную деривацию подписывающей
// идентичности хранилища. Идентичность не имеет закрытого ключа: право
// авторизации проверяется пересчетом деривации, а не владением секретом.
package authority

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// Тэг доменного разделения для деривации идентичности.
const authorityTag = "authority"

// Deriver выполняет деривацию и проверку производной идентичности хранилищ.
// Деривация параметризована идентичностью программы: разные экземпляры
// сервиса с разными programID получают непересекающиеся пространства
// идентичностей и несовместимые доказательства.
type Deriver struct {
	programID uuid.UUID
}

// NewDeriver создает Deriver для указанной идентичности программы.
// Идентичность программы задается конфигурацией, а не константой пакета.
func NewDeriver(programID uuid.UUID) *Deriver {
	return &Deriver{programID: programID}
}

// Derive детерминированно вычисляет производную идентичность хранилища
// и доказательство деривации. Доказательство сохраняется в записи хранилища
// при создании и предъявляется при каждом авторизуемом вызове.
func (d *Deriver) Derive(vaultID uuid.UUID) (uuid.UUID, string) {
	// Идентичность вычисляется как UUID от (тэг, vaultID) в пространстве программы
	seed := make([]byte, 0, len(authorityTag)+len(vaultID))
	seed = append(seed, []byte(authorityTag)...)
	seed = append(seed, vaultID[:]...)
	authorityID := uuid.NewSHA1(d.programID, seed)

	return authorityID, d.proof(vaultID, authorityID)
}

// Verify проверяет, что authorityID действительно является производной
// идентичностью хранилища vaultID, а proof является корректным доказательством.
// Проверка выполняется пересчетом, кеширование доказательств не предусмотрено.
func (d *Deriver) Verify(vaultID, authorityID uuid.UUID, proof string) bool {
	expectedID, expectedProof := d.Derive(vaultID)
	if expectedID != authorityID {
		return false
	}
	// Сравнение за константное время, чтобы не раскрывать префиксы доказательства
	return hmac.Equal([]byte(expectedProof), []byte(proof))
}

// proof вычисляет HMAC-SHA256 по (vaultID, authorityID) с ключом программы.
func (d *Deriver) proof(vaultID, authorityID uuid.UUID) string {
	mac := hmac.New(sha256.New, d.programID[:])
	mac.Write([]byte(authorityTag))
	mac.Write(vaultID[:])
	mac.Write(authorityID[:])
	return hex.EncodeToString(mac.Sum(nil))
}
