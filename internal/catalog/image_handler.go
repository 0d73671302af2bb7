package catalog

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"warehouse-backend/internal/apiutil"
	"warehouse-backend/internal/audit"
	"warehouse-backend/internal/auth"
	"warehouse-backend/internal/database"
	"warehouse-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	MaxImageSize = 5 << 20
	// ImageURLPrefix is where the upload directory is served.
	ImageURLPrefix = "/uploads/items/"
)

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// imageDir is set by ImageDir; files land in <upload path>/items.
var imageDir = filepath.Join(".", "uploads", "items")

// ImageDir configures and creates the directory item images are written to.
func ImageDir(uploadPath string) error {
	imageDir = filepath.Join(uploadPath, "items")
	return os.MkdirAll(imageDir, 0o755)
}

type ImageResponse struct {
	ID           uint   `json:"id"`
	ItemID       uint   `json:"item_id"`
	URL          string `json:"url"`
	OriginalName string `json:"original_name"`
	ContentType  string `json:"content_type"`
	Size         int64  `json:"size"`
	CreatedAt    string `json:"created_at"`
}

func toImageResponse(img models.ItemImage) ImageResponse {
	return ImageResponse{
		ID:           img.ID,
		ItemID:       img.ItemID,
		URL:          ImageURLPrefix + img.FileName,
		OriginalName: img.OriginalName,
		ContentType:  img.ContentType,
		Size:         img.Size,
		CreatedAt:    img.CreatedAt.Format(apiutil.DateTimeLayout),
	}
}

func removeImageFiles(images []models.ItemImage) {
	for _, img := range images {
		if err := os.Remove(filepath.Join(imageDir, img.FileName)); err != nil && !os.IsNotExist(err) {
			zap.L().Warn("item image file not removed", zap.String("file", img.FileName), zap.Error(err))
		}
	}
}

// POST /api/items/:id/images (multipart "file")
func UploadItemImageHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := apiutil.ParamID(c, "id")
		if err != nil {
			return err
		}
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}

		var it models.Item
		if err := database.DB.First(&it, "id = ?", id).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Item not found")
		}

		fh, err := c.FormFile("file")
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Image is required in field 'file'")
		}
		if fh.Size > MaxImageSize {
			return fiber.NewError(fiber.StatusRequestEntityTooLarge, "Image must be at most 5MB")
		}

		f, err := fh.Open()
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Image could not be read")
		}
		head := make([]byte, 512)
		n, _ := f.Read(head)
		f.Close()

		contentType := http.DetectContentType(head[:n])
		ext, ok := imageExtensions[contentType]
		if !ok {
			return fiber.NewError(fiber.StatusUnsupportedMediaType, "Only JPEG, PNG and WebP images are accepted")
		}

		img := models.ItemImage{
			ItemID:       it.ID,
			FileName:     uuid.NewString() + ext,
			OriginalName: filepath.Base(fh.Filename),
			ContentType:  contentType,
			Size:         fh.Size,
		}
		if err := c.SaveFile(fh, filepath.Join(imageDir, img.FileName)); err != nil {
			zap.L().Error("save item image", zap.Error(err))
			return fiber.NewError(fiber.StatusInternalServerError, "Image could not be stored")
		}

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&img).Error; err != nil {
				return err
			}
			return audit.WriteLog(audit.LogOptions{
				Tx:          tx,
				UserID:      actor.ID,
				UserName:    actor.Name,
				EntityType:  audit.EntityItemImage,
				EntityID:    img.ID,
				Action:      models.AuditActionCreate,
				Description: fmt.Sprintf("Image added to %s", it.ProductCode),
				After:       img,
			})
		})
		if err != nil {
			removeImageFiles([]models.ItemImage{img})
			return apiutil.DomainError(err, "Failed to store image")
		}
		return c.Status(fiber.StatusCreated).JSON(toImageResponse(img))
	}
}

// GET /api/items/:id/images
func ListItemImagesHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := apiutil.ParamID(c, "id")
		if err != nil {
			return err
		}
		var images []models.ItemImage
		if err := database.DB.Where("item_id = ?", id).Order("id ASC").Find(&images).Error; err != nil {
			return apiutil.DomainError(err, "Failed to list images")
		}
		res := make([]ImageResponse, 0, len(images))
		for _, img := range images {
			res = append(res, toImageResponse(img))
		}
		return c.JSON(res)
	}
}

// DELETE /api/item-images/:id
func DeleteItemImageHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := apiutil.ParamID(c, "id")
		if err != nil {
			return err
		}
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}

		var img models.ItemImage
		if err := database.DB.First(&img, "id = ?", id).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Image not found")
		}

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Delete(&img).Error; err != nil {
				return err
			}
			return audit.WriteLog(audit.LogOptions{
				Tx:          tx,
				UserID:      actor.ID,
				UserName:    actor.Name,
				EntityType:  audit.EntityItemImage,
				EntityID:    img.ID,
				Action:      models.AuditActionDelete,
				Description: fmt.Sprintf("Image removed: %s", img.OriginalName),
				Before:      img,
			})
		})
		if err != nil {
			return apiutil.DomainError(err, "Failed to delete image")
		}

		removeImageFiles([]models.ItemImage{img})
		return c.SendStatus(fiber.StatusNoContent)
	}
}
