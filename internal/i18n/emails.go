package i18n

import (
	"strconv"
	"strings"
)

type EmailContent struct {
	Subject string
	Text    string
	HTML    string
}

type emailStrings struct {
	VerificationSubject string
	VerificationText    string
	VerificationHTML    string

	PasswordResetSubject string
	PasswordResetText    string
	PasswordResetHTML    string

	OAuthNoticeSubject string
	OAuthNoticeText    string
	OAuthNoticeHTML    string

	SignInSubject string
	SignInText    string
	SignInHTML    string

	UnknownLocation string
	UnknownDevice   string
}

var emailTranslations = map[string]emailStrings{
	"en": {
		VerificationSubject: "Verify your email",
		VerificationText:    "Verify your email address: {link}\nThe link expires in {hours} hour(s).\nIf you did not create an account, you can ignore this email.",
		VerificationHTML: "<p>Verify your email</p>" +
			"<p>Click the link below to verify your email address.</p>" +
			"<p><a href=\"{link}\">Verify email</a></p>" +
			"<p>The link expires in {hours} hour(s).</p>" +
			"<p>If you did not create an account, you can ignore this email.</p>",

		PasswordResetSubject: "Reset your password",
		PasswordResetText:    "Reset your password: {link}\nThe link expires in {hours} hour(s).\nIf you did not request this, ignore this email.",
		PasswordResetHTML: "<p>Password reset</p>" +
			"<p>Click the button to reset your password.</p>" +
			"<p><a href=\"{link}\">Reset password</a></p>" +
			"<p>The link expires in {hours} hour(s).</p>" +
			"<p>If you did not request this, ignore this email.</p>",

		OAuthNoticeSubject: "Account uses external sign-in",
		OAuthNoticeText:    "This account uses an external sign-in method. Please sign in using that method to access your account.",
		OAuthNoticeHTML: "<p>This account uses an external sign-in method.</p>" +
			"<p>Please sign in using that method to access your account.</p>",

		SignInSubject: "New sign-in to your account",
		SignInText: "Hi {email},\n\nA new sign-in occurred on {time}.\n\n" +
			"IP: {ip}\nLocation: {location}\nDevice: {device}\n\n" +
			"If this wasn't you, please reset your password.",
		SignInHTML: "<p>Hi {email},</p>" +
			"<p>A new sign-in occurred on <strong>{time}</strong>.</p>" +
			"<ul><li><strong>IP:</strong> {ip}</li>" +
			"<li><strong>Location:</strong> {location}</li>" +
			"<li><strong>Device:</strong> {device}</li></ul>" +
			"<p>If this wasn't you, please reset your password.</p>",

		UnknownLocation: "Unknown location",
		UnknownDevice:   "Unknown device",
	},
	"de": {
		VerificationSubject: "E-Mail-Adresse bestätigen",
		VerificationText:    "Bestätige deine E-Mail-Adresse: {link}\nDer Link ist {hours} Stunde(n) gültig.\nWenn du kein Konto erstellt hast, kannst du diese E-Mail ignorieren.",
		VerificationHTML: "<p>E-Mail-Adresse bestätigen</p>" +
			"<p>Klicke auf den Link, um deine E-Mail-Adresse zu bestätigen.</p>" +
			"<p><a href=\"{link}\">E-Mail bestätigen</a></p>" +
			"<p>Der Link ist {hours} Stunde(n) gültig.</p>" +
			"<p>Wenn du kein Konto erstellt hast, kannst du diese E-Mail ignorieren.</p>",

		PasswordResetSubject: "Passwort zurücksetzen",
		PasswordResetText:    "Passwort zurücksetzen: {link}\nDer Link ist {hours} Stunde(n) gültig.\nWenn du das nicht angefordert hast, ignoriere diese E-Mail.",
		PasswordResetHTML: "<p>Passwort zurücksetzen</p>" +
			"<p>Klicke auf den Button, um dein Passwort zurückzusetzen.</p>" +
			"<p><a href=\"{link}\">Passwort zurücksetzen</a></p>" +
			"<p>Der Link ist {hours} Stunde(n) gültig.</p>" +
			"<p>Wenn du das nicht angefordert hast, ignoriere diese E-Mail.</p>",

		OAuthNoticeSubject: "Konto nutzt externe Anmeldung",
		OAuthNoticeText:    "Dieses Konto verwendet eine externe Anmeldemethode. Bitte melde dich darüber an, um auf dein Konto zuzugreifen.",
		OAuthNoticeHTML: "<p>Dieses Konto verwendet eine externe Anmeldemethode.</p>" +
			"<p>Bitte melde dich darüber an, um auf dein Konto zuzugreifen.</p>",

		SignInSubject: "Neue Anmeldung bei deinem Konto",
		SignInText: "Hallo {email},\n\nam {time} gab es eine neue Anmeldung.\n\n" +
			"IP: {ip}\nStandort: {location}\nGerät: {device}\n\n" +
			"Wenn das nicht du warst, setze bitte dein Passwort zurück.",
		SignInHTML: "<p>Hallo {email},</p>" +
			"<p>Am <strong>{time}</strong> gab es eine neue Anmeldung.</p>" +
			"<ul><li><strong>IP:</strong> {ip}</li>" +
			"<li><strong>Standort:</strong> {location}</li>" +
			"<li><strong>Gerät:</strong> {device}</li></ul>" +
			"<p>Wenn das nicht du warst, setze bitte dein Passwort zurück.</p>",

		UnknownLocation: "Unbekannter Standort",
		UnknownDevice:   "Unbekanntes Gerät",
	},
}

func emailStringsForLocale(locale string) emailStrings {
	key := NormalizeLocale(locale)
	if val, ok := emailTranslations[key]; ok {
		return val
	}
	return emailTranslations[DefaultLocale]
}

func renderTemplate(tmpl string, values map[string]string) string {
	if tmpl == "" || len(values) == 0 {
		return tmpl
	}

	replacements := make([]string, 0, len(values)*2)
	for key, value := range values {
		replacements = append(replacements, "{"+key+"}", value)
	}
	return strings.NewReplacer(replacements...).Replace(tmpl)
}

func VerificationEmail(locale, link string, hours int) EmailContent {
	templates := emailStringsForLocale(locale)
	values := map[string]string{
		"link":  link,
		"hours": strconv.Itoa(hours),
	}
	return EmailContent{
		Subject: templates.VerificationSubject,
		Text:    renderTemplate(templates.VerificationText, values),
		HTML:    renderTemplate(templates.VerificationHTML, values),
	}
}

func PasswordResetEmail(locale, link string, hours int) EmailContent {
	templates := emailStringsForLocale(locale)
	values := map[string]string{
		"link":  link,
		"hours": strconv.Itoa(hours),
	}
	return EmailContent{
		Subject: templates.PasswordResetSubject,
		Text:    renderTemplate(templates.PasswordResetText, values),
		HTML:    renderTemplate(templates.PasswordResetHTML, values),
	}
}

func OAuthNoticeEmail(locale string) EmailContent {
	templates := emailStringsForLocale(locale)
	return EmailContent{
		Subject: templates.OAuthNoticeSubject,
		Text:    templates.OAuthNoticeText,
		HTML:    templates.OAuthNoticeHTML,
	}
}

func SignInAlertEmail(locale, email, loginTime, ip, location, device string) EmailContent {
	templates := emailStringsForLocale(locale)
	if strings.TrimSpace(location) == "" {
		location = templates.UnknownLocation
	}
	if strings.TrimSpace(device) == "" {
		device = templates.UnknownDevice
	}
	values := map[string]string{
		"email":    email,
		"time":     loginTime,
		"ip":       ip,
		"location": location,
		"device":   device,
	}
	return EmailContent{
		Subject: templates.SignInSubject,
		Text:    renderTemplate(templates.SignInText, values),
		HTML:    renderTemplate(templates.SignInHTML, values),
	}
}
