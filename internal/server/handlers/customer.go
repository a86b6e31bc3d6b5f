package handlers

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"salesorder-system/internal/apperr"
	"salesorder-system/internal/database/models"
	"salesorder-system/internal/ledger"
)

type CustomerHandler struct {
	db *gorm.DB
}

func NewCustomerHandler(db *gorm.DB) *CustomerHandler {
	return &CustomerHandler{db: db}
}

type customerRequest struct {
	Name  string  `json:"name"`
	Email *string `json:"email"`
	Phone string  `json:"phone"`
}

// POST /api/customers
func (s *CustomerHandler) CreateCustomer(c *gin.Context) {
	var req customerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failValidation(c, "Invalid request body: "+err.Error())
		return
	}
	if req.Name == "" || req.Phone == "" {
		failValidation(c, "Name and phone are required")
		return
	}

	if req.Email != nil && *req.Email != "" {
		var count int64
		if err := s.db.Model(&models.Customer{}).Where("email = ?", *req.Email).Count(&count).Error; err != nil {
			fail(c, ledger.NormalizeError(err, "Failed to create customer"))
			return
		}
		if count > 0 {
			fail(c, apperr.New(apperr.KindConflict, "Email already exists"))
			return
		}
	}

	customer := models.Customer{
		Name:  req.Name,
		Email: req.Email,
		Phone: req.Phone,
	}
	if err := s.db.Create(&customer).Error; err != nil {
		if err == gorm.ErrDuplicatedKey {
			fail(c, apperr.New(apperr.KindConflict, "Email already exists"))
			return
		}
		fail(c, ledger.NormalizeError(err, "Failed to create customer"))
		return
	}

	created(c, "Customer created successfully", customer)
}

// GET /api/customers/:id
func (s *CustomerHandler) GetCustomer(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var customer models.Customer
	err := s.db.Preload("Orders", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at DESC").Limit(10)
	}).Preload("Orders.Items").Preload("Orders.Items.Goods").
		First(&customer, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			fail(c, apperr.New(apperr.KindNotFound, "Customer not found"))
			return
		}
		fail(c, ledger.NormalizeError(err, "Failed to get customer"))
		return
	}

	success(c, customer)
}

// GET /api/customers
func (s *CustomerHandler) ListCustomers(c *gin.Context) {
	page, limit := pageAndLimit(c)
	search := c.Query("search")

	query := s.db.Model(&models.Customer{})
	if search != "" {
		term := "%" + search + "%"
		query = query.Where("name ILIKE ? OR email ILIKE ? OR phone ILIKE ?", term, term, term)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		fail(c, ledger.NormalizeError(err, "Failed to list customers"))
		return
	}

	var customers []models.Customer
	offset := (page - 1) * limit
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&customers).Error; err != nil {
		fail(c, ledger.NormalizeError(err, "Failed to list customers"))
		return
	}

	successPaginated(c, customers, page, limit, total)
}

// PUT /api/customers/:id
func (s *CustomerHandler) UpdateCustomer(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req customerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failValidation(c, "Invalid request body: "+err.Error())
		return
	}

	var customer models.Customer
	if err := s.db.First(&customer, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			fail(c, apperr.New(apperr.KindNotFound, "Customer not found"))
			return
		}
		fail(c, ledger.NormalizeError(err, "Failed to update customer"))
		return
	}

	if req.Email != nil && *req.Email != "" &&
		(customer.Email == nil || *req.Email != *customer.Email) {
		var count int64
		if err := s.db.Model(&models.Customer{}).Where("email = ? AND id <> ?", *req.Email, id).Count(&count).Error; err != nil {
			fail(c, ledger.NormalizeError(err, "Failed to update customer"))
			return
		}
		if count > 0 {
			fail(c, apperr.New(apperr.KindConflict, "Email already exists"))
			return
		}
	}

	if req.Name != "" {
		customer.Name = req.Name
	}
	if req.Email != nil {
		customer.Email = req.Email
	}
	if req.Phone != "" {
		customer.Phone = req.Phone
	}

	if err := s.db.Save(&customer).Error; err != nil {
		if err == gorm.ErrDuplicatedKey {
			fail(c, apperr.New(apperr.KindConflict, "Email already exists"))
			return
		}
		fail(c, ledger.NormalizeError(err, "Failed to update customer"))
		return
	}

	successMessage(c, "Customer updated successfully", customer)
}

// DELETE /api/customers/:id
func (s *CustomerHandler) DeleteCustomer(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var customer models.Customer
	if err := s.db.First(&customer, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			fail(c, apperr.New(apperr.KindNotFound, "Customer not found"))
			return
		}
		fail(c, ledger.NormalizeError(err, "Failed to delete customer"))
		return
	}

	var orderCount int64
	if err := s.db.Model(&models.SalesOrder{}).Where("customer_id = ?", id).Count(&orderCount).Error; err != nil {
		fail(c, ledger.NormalizeError(err, "Failed to delete customer"))
		return
	}
	if orderCount > 0 {
		fail(c, apperr.New(apperr.KindConflict, "Cannot delete customer with existing orders"))
		return
	}

	if err := s.db.Delete(&customer).Error; err != nil {
		fail(c, ledger.NormalizeError(err, "Failed to delete customer"))
		return
	}

	successMessage(c, "Customer deleted successfully", nil)
}
