package catalog

import (
	"context"
	"fmt"
)

// Control is one security control within a family.
type Control struct {
	ID          string `json:"id"`
	FamilyCode  string `json:"family_code"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Family is a grouping of related controls identified by a short code.
type Family struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Catalog returns the ordered controls to scan for a family.
type Catalog interface {
	Families() []Family
	Controls(ctx context.Context, familyCode string) ([]Control, error)
}

// Builtin is the embedded control catalog. Family order is fixed; the
// assessment orchestrator iterates it strictly sequentially.
type Builtin struct{}

func NewBuiltin() *Builtin {
	return &Builtin{}
}

var families = []Family{
	{Code: "AC", Name: "Access Control"},
	{Code: "AU", Name: "Audit and Accountability"},
	{Code: "CM", Name: "Configuration Management"},
	{Code: "CP", Name: "Contingency Planning"},
	{Code: "IA", Name: "Identification and Authentication"},
	{Code: "IR", Name: "Incident Response"},
	{Code: "RA", Name: "Risk Assessment"},
	{Code: "SC", Name: "System and Communications Protection"},
	{Code: "SI", Name: "System and Information Integrity"},
}

var controls = map[string][]Control{
	"AC": {
		{ID: "AC-2", FamilyCode: "AC", Title: "Account Management"},
		{ID: "AC-3", FamilyCode: "AC", Title: "Access Enforcement"},
		{ID: "AC-4", FamilyCode: "AC", Title: "Information Flow Enforcement"},
		{ID: "AC-6", FamilyCode: "AC", Title: "Least Privilege"},
		{ID: "AC-17", FamilyCode: "AC", Title: "Remote Access"},
	},
	"AU": {
		{ID: "AU-2", FamilyCode: "AU", Title: "Event Logging"},
		{ID: "AU-6", FamilyCode: "AU", Title: "Audit Record Review"},
		{ID: "AU-9", FamilyCode: "AU", Title: "Protection of Audit Information"},
		{ID: "AU-12", FamilyCode: "AU", Title: "Audit Record Generation"},
	},
	"CM": {
		{ID: "CM-2", FamilyCode: "CM", Title: "Baseline Configuration"},
		{ID: "CM-6", FamilyCode: "CM", Title: "Configuration Settings"},
		{ID: "CM-7", FamilyCode: "CM", Title: "Least Functionality"},
		{ID: "CM-8", FamilyCode: "CM", Title: "System Component Inventory"},
	},
	"CP": {
		{ID: "CP-6", FamilyCode: "CP", Title: "Alternate Storage Site"},
		{ID: "CP-9", FamilyCode: "CP", Title: "System Backup"},
		{ID: "CP-10", FamilyCode: "CP", Title: "System Recovery"},
	},
	"IA": {
		{ID: "IA-2", FamilyCode: "IA", Title: "User Identification and Authentication"},
		{ID: "IA-5", FamilyCode: "IA", Title: "Authenticator Management"},
		{ID: "IA-8", FamilyCode: "IA", Title: "Non-Organizational User Identification"},
	},
	"IR": {
		{ID: "IR-4", FamilyCode: "IR", Title: "Incident Handling"},
		{ID: "IR-5", FamilyCode: "IR", Title: "Incident Monitoring"},
		{ID: "IR-6", FamilyCode: "IR", Title: "Incident Reporting"},
	},
	"RA": {
		{ID: "RA-3", FamilyCode: "RA", Title: "Risk Assessment"},
		{ID: "RA-5", FamilyCode: "RA", Title: "Vulnerability Monitoring and Scanning"},
	},
	"SC": {
		{ID: "SC-7", FamilyCode: "SC", Title: "Boundary Protection"},
		{ID: "SC-8", FamilyCode: "SC", Title: "Transmission Confidentiality"},
		{ID: "SC-12", FamilyCode: "SC", Title: "Cryptographic Key Management"},
		{ID: "SC-13", FamilyCode: "SC", Title: "Cryptographic Protection"},
		{ID: "SC-28", FamilyCode: "SC", Title: "Protection of Information at Rest"},
	},
	"SI": {
		{ID: "SI-2", FamilyCode: "SI", Title: "Flaw Remediation"},
		{ID: "SI-4", FamilyCode: "SI", Title: "System Monitoring"},
		{ID: "SI-7", FamilyCode: "SI", Title: "Software and Information Integrity"},
	},
}

func (b *Builtin) Families() []Family {
	out := make([]Family, len(families))
	copy(out, families)
	return out
}

func (b *Builtin) Controls(ctx context.Context, familyCode string) ([]Control, error) {
	ctrls, ok := controls[familyCode]
	if !ok {
		return nil, fmt.Errorf("unknown control family: %s", familyCode)
	}
	out := make([]Control, len(ctrls))
	copy(out, ctrls)
	return out, nil
}

// FamilyName resolves a family code to its display name, or the code
// itself if unknown.
func FamilyName(code string) string {
	for _, f := range families {
		if f.Code == code {
			return f.Name
		}
	}
	return code
}
