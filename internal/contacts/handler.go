package contacts

import (
	"bytes"

	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/types"
	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/router"
)

const maxExportContacts = 5000

// Export renders the submitted contacts as a downloadable vCard file.
func Export(c *fiber.Ctx) error {
	var req types.RequestBuildVCF
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}
	if len(req.Contacts) == 0 {
		return router.ResponseBadRequest(c, "contacts is required")
	}
	if len(req.Contacts) > maxExportContacts {
		return router.ResponseBadRequest(c, "Too many contacts")
	}

	list := make([]Contact, 0, len(req.Contacts))
	for _, rc := range req.Contacts {
		list = append(list, Contact{Name: rc.Name, Phone: rc.Phone})
	}

	vcf := BuildVCF(list)
	if vcf == "" {
		return router.ResponseBadRequest(c, "No contacts with valid phone numbers")
	}

	c.Set(fiber.HeaderContentType, "text/vcard; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="contacts.vcf"`)
	return c.SendString(vcf)
}

// Import parses an uploaded vCard file into a contact list.
func Import(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		// Fall back to a raw body upload.
		body := c.Body()
		if len(body) == 0 {
			return router.ResponseBadRequest(c, "file is required")
		}
		return respondParsed(c, body)
	}

	file, err := fileHeader.Open()
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}
	defer file.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(file); err != nil {
		return router.ResponseInternalError(c, err.Error())
	}
	return respondParsed(c, buf.Bytes())
}

func respondParsed(c *fiber.Ctx, raw []byte) error {
	parsed, err := ParseVCF(bytes.NewReader(raw))
	if err != nil {
		return router.ResponseBadRequest(c, "Failed to parse vcf: "+err.Error())
	}
	return router.ResponseSuccessWithData(c, "Success parse contacts", parsed)
}
