package api

import (
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"custody_backend/storage"
)

// FileAPI отдает подписи и акты из хранилища объектов
type FileAPI struct {
	Store storage.ObjectStore
}

// NewFileAPI создает новый экземпляр FileAPI
func NewFileAPI(store storage.ObjectStore) *FileAPI {
	return &FileAPI{Store: store}
}

// GetFile отдает объект по ссылке вида <bucket>/<key>
func (api *FileAPI) GetFile(c *gin.Context) {
	ref := strings.TrimPrefix(c.Param("ref"), "/")

	obj, err := api.Store.Get(c.Request.Context(), ref)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidKey):
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "Некорректная ссылка на файл"})
		case errors.Is(err, storage.ErrObjectNotFound):
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "Файл не найден"})
		default:
			_ = c.Error(err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": "Хранилище недоступно"})
		}
		return
	}

	c.Header("Content-Disposition", "inline; filename=\""+path.Base(obj.Ref)+"\"")
	c.Data(http.StatusOK, obj.ContentType, obj.Data)
}
