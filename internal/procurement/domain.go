package procurement

import (
	"errors"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/p2p/internal/workflow"
)

// ErrNotEditable indicates items, attributes or documents are frozen by status.
var ErrNotEditable = errors.New("procurement: not editable in current status")

// Item is one ordered line of a PR or PO. Amount is always Quantity × UnitPrice.
type Item struct {
	ID          int64           `json:"id"`
	LineNo      int             `json:"line_no"`
	ItemCode    string          `json:"item_code"`
	Description string          `json:"description"`
	Unit        string          `json:"unit"`
	Currency    string          `json:"currency"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
}

// Attribute is a free form key/value attached to a PR.
type Attribute struct {
	Key   string `json:"key" validate:"required,max=64"`
	Value string `json:"value" validate:"max=512"`
}

// Document is the metadata of an uploaded PR attachment.
type Document struct {
	ID         int64     `json:"id"`
	PRNumber   string    `json:"pr_number"`
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	UploadedBy int64     `json:"uploaded_by"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// PurchaseRequest aggregate.
type PurchaseRequest struct {
	Number            string          `json:"number"`
	RequestorID       int64           `json:"requestor_id"`
	ApplicantID       int64           `json:"applicant_id"`
	PurchaseTypeID    int64           `json:"purchase_type_id"`
	PurchaseSubTypeID int64           `json:"purchase_sub_type_id"`
	SubCoreBusinessID int64           `json:"sub_core_business_id"`
	CompanyCode       string          `json:"company_code"`
	Currency          string          `json:"currency"`
	Total             decimal.Decimal `json:"total_amount"`
	Status            workflow.Status `json:"status"`
	Remark            string          `json:"remark,omitempty"`
	Items             []Item          `json:"items"`
	Attributes        []Attribute     `json:"attributes,omitempty"`
	Documents         []Document      `json:"documents,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// PurchaseOrder aggregate. Vendor fields are a snapshot of the contract at conversion.
type PurchaseOrder struct {
	Number            string          `json:"number"`
	PRNumber          string          `json:"pr_number"`
	BuyerID           int64           `json:"buyer_id"`
	PurchaseTypeID    int64           `json:"purchase_type_id"`
	PurchaseSubTypeID int64           `json:"purchase_sub_type_id"`
	VendorContractID  int64           `json:"vendor_contract_id"`
	ContractNumber    string          `json:"contract_number"`
	VendorCode        string          `json:"vendor_code"`
	VendorName        string          `json:"vendor_name"`
	VendorEmail       string          `json:"vendor_email,omitempty"`
	Currency          string          `json:"currency"`
	Total             decimal.Decimal `json:"total_amount"`
	Status            workflow.Status `json:"status"`
	Items             []Item          `json:"items"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// ItemInput is a requested line.
type ItemInput struct {
	ItemCode    string          `json:"item_code" validate:"required,max=64"`
	Description string          `json:"description" validate:"max=256"`
	Unit        string          `json:"unit" validate:"required,max=16"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// CreatePRInput is the payload for a new Draft PR.
type CreatePRInput struct {
	Number            string      `json:"number" validate:"omitempty,max=32"`
	ApplicantID       int64       `json:"applicant_id" validate:"gte=0"`
	PurchaseTypeID    int64       `json:"purchase_type_id" validate:"required,gt=0"`
	PurchaseSubTypeID int64       `json:"purchase_sub_type_id" validate:"required,gt=0"`
	SubCoreBusinessID int64       `json:"sub_core_business_id" validate:"required,gt=0"`
	CompanyCode       string      `json:"company_code" validate:"required,max=16"`
	Currency          string      `json:"currency" validate:"required,len=3"`
	Remark            string      `json:"remark" validate:"max=512"`
	Items             []ItemInput `json:"items" validate:"required,min=1,dive"`
	Attributes        []Attribute `json:"attributes" validate:"omitempty,dive"`
	RequestorID       int64       `json:"-"`
}

// Upload is one document to attach.
type Upload struct {
	Name string
	Body io.Reader
}

// FailedUpload reports a document the store could not keep.
type FailedUpload struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// AttachResult lists stored and failed uploads. The PR change commits even
// when some uploads fail.
type AttachResult struct {
	Saved  []Document     `json:"saved"`
	Failed []FailedUpload `json:"failed,omitempty"`
}

// Partial reports whether some uploads failed.
func (r AttachResult) Partial() bool {
	return len(r.Failed) > 0
}

// ConvertInput converts an approved PR into a Draft PO.
type ConvertInput struct {
	PRNumber         string `json:"-"`
	Number           string `json:"number" validate:"omitempty,max=32"`
	VendorContractID int64  `json:"vendor_contract_id" validate:"required,gt=0"`
	BuyerID          int64  `json:"-"`
}

// DecisionInput asks the workflow to move a PR or PO.
type DecisionInput struct {
	Kind     workflow.Kind     `json:"-"`
	Number   string            `json:"-"`
	From     workflow.Status   `json:"from"`
	Decision workflow.Decision `json:"decision" validate:"required,oneof=SUBMIT APPROVE REJECT CANCEL"`
	Remarks  string            `json:"remarks" validate:"max=1024"`
	ActorID  int64             `json:"-"`
}

// GridFilter narrows the PO grid.
type GridFilter struct {
	Statuses []workflow.Status `json:"statuses"`
	Search   string            `json:"search" validate:"max=64"`
	Page     int               `json:"page" validate:"gte=0"`
	PerPage  int               `json:"per_page" validate:"gte=0,lte=200"`
}

// GridRow is one PO in the grid.
type GridRow struct {
	Number      string          `json:"number"`
	PRNumber    string          `json:"pr_number"`
	VendorName  string          `json:"vendor_name"`
	Currency    string          `json:"currency"`
	Total       decimal.Decimal `json:"total_amount"`
	Status      workflow.Status `json:"status"`
	StatusLabel string          `json:"status_label"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Grid is a page of POs.
type Grid struct {
	Rows    []GridRow `json:"rows"`
	Total   int       `json:"total"`
	Page    int       `json:"page"`
	PerPage int       `json:"per_page"`
}
