package provisioning

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	minPasswordLength = 6
	maxNameLength     = 100
	maxCountryLength  = 56
)

var (
	phonePattern    = regexp.MustCompile(`^\+[0-9]{3,15}$`)
	telegramPattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,32}$`)
	referralPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)
	digitsPattern   = regexp.MustCompile(`^[0-9]{4,34}$`)
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
)

// fieldErrors collects every failing field so callers see them all at once.
type fieldErrors []FieldError

func (fe *fieldErrors) add(field, reason string) {
	*fe = append(*fe, FieldError{Field: field, Reason: reason})
}

// Validate checks every field required by role and returns the normalized
// profile, or the full list of failing fields.
func Validate(role Role, fields map[string]string) (Profile, []FieldError) {
	get := func(k string) string { return strings.TrimSpace(fields[k]) }
	var errs fieldErrors

	p := Profile{
		Email:        strings.ToLower(get("email")),
		Password:     fields["password"],
		FirstName:    get("firstName"),
		LastName:     get("lastName"),
		Country:      get("country"),
		ReferralCode: get("referralCode"),
	}

	switch {
	case p.Email == "":
		errs.add("email", "required")
	case !validEmail(p.Email):
		errs.add("email", "must be a valid email address")
	}

	switch {
	case p.Password == "":
		errs.add("password", "required")
	case utf8.RuneCountInString(p.Password) < minPasswordLength:
		errs.add("password", "must be at least 6 characters")
	case !hasLetterAndDigit(p.Password):
		errs.add("password", "must contain a letter and a digit")
	}

	checkName(&errs, "firstName", p.FirstName)
	checkName(&errs, "lastName", p.LastName)

	if tg := get("tgUsername"); tg != "" {
		name := strings.TrimPrefix(tg, "@")
		if telegramPattern.MatchString(name) {
			p.TelegramUsername = "@" + name
		} else {
			errs.add("tgUsername", "must be 1-32 letters, digits or underscores")
		}
	} else if role.IsStaff() {
		errs.add("tgUsername", "required")
	}

	phone := strings.NewReplacer(" ", "", "-", "").Replace(get("phone"))
	switch {
	case phone == "":
		errs.add("phone", "required")
	case !phonePattern.MatchString(phone):
		errs.add("phone", "must be + followed by 3-15 digits")
	default:
		p.Phone = phone
	}

	switch {
	case p.Country == "" && role != RoleAdmin:
		errs.add("country", "required")
	case utf8.RuneCountInString(p.Country) > maxCountryLength:
		errs.add("country", "too long")
	}

	if p.ReferralCode != "" && !referralPattern.MatchString(p.ReferralCode) {
		errs.add("referralCode", "must be 1-32 letters, digits, dashes or underscores")
	}

	if len(errs) > 0 {
		return Profile{}, errs
	}
	return p, nil
}

// ValidateCustomerAccount checks a customer account request.
func ValidateCustomerAccount(req CustomerAccountRequest) (CustomerAccountRequest, []FieldError) {
	var errs fieldErrors
	req = CustomerAccountRequest{
		DocumentType:   strings.ToLower(strings.TrimSpace(req.DocumentType)),
		DocumentNumber: strings.TrimSpace(req.DocumentNumber),
		AddressLine1:   strings.TrimSpace(req.AddressLine1),
		City:           strings.TrimSpace(req.City),
		State:          strings.TrimSpace(req.State),
		PostalCode:     strings.TrimSpace(req.PostalCode),
		Country:        strings.TrimSpace(req.Country),
	}

	switch req.DocumentType {
	case "":
		errs.add("documentType", "required")
	case "passport", "national_id", "driver_license", "tax_id":
	default:
		errs.add("documentType", "must be one of passport, national_id, driver_license, tax_id")
	}
	if req.DocumentNumber == "" {
		errs.add("documentNumber", "required")
	} else if len(req.DocumentNumber) > 64 {
		errs.add("documentNumber", "too long")
	}
	if req.AddressLine1 == "" {
		errs.add("addressLine1", "required")
	}
	if req.City == "" {
		errs.add("city", "required")
	}
	if utf8.RuneCountInString(req.Country) > maxCountryLength {
		errs.add("country", "too long")
	}

	if len(errs) > 0 {
		return CustomerAccountRequest{}, errs
	}
	return req, nil
}

// ValidateBankAccount checks a bank account link request.
func ValidateBankAccount(req BankAccountLinkRequest) (BankAccountLinkRequest, []FieldError) {
	var errs fieldErrors
	req = BankAccountLinkRequest{
		HolderName:    strings.TrimSpace(req.HolderName),
		AccountNumber: strings.NewReplacer(" ", "", "-", "").Replace(req.AccountNumber),
		AccountType:   strings.ToLower(strings.TrimSpace(req.AccountType)),
		Currency:      strings.ToUpper(strings.TrimSpace(req.Currency)),
		RoutingNumber: strings.TrimSpace(req.RoutingNumber),
	}

	checkName(&errs, "holderName", req.HolderName)
	switch {
	case req.AccountNumber == "":
		errs.add("accountNumber", "required")
	case !digitsPattern.MatchString(req.AccountNumber):
		errs.add("accountNumber", "must be 4-34 digits")
	}
	switch req.AccountType {
	case "checking", "savings":
	case "":
		errs.add("accountType", "required")
	default:
		errs.add("accountType", "must be checking or savings")
	}
	if !currencyPattern.MatchString(req.Currency) {
		errs.add("currency", "must be a 3-letter currency code")
	}

	if len(errs) > 0 {
		return BankAccountLinkRequest{}, errs
	}
	return req, nil
}

func checkName(errs *fieldErrors, field, value string) {
	switch {
	case value == "":
		errs.add(field, "required")
	case utf8.RuneCountInString(value) > maxNameLength:
		errs.add(field, "must be at most 100 characters")
	}
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndexByte(email, '@')
	return at > 0 && at < len(email)-1
}

func hasLetterAndDigit(s string) bool {
	var letter, digit bool
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return letter && digit
}
