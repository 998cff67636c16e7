// internal/domain/i18n/i18n.go

package i18n

import (
	"strings"

	"golang.org/x/text/language"
)

// Supported languages, the first one is the default
const (
	French  = "fr"
	English = "en"
)

var (
	supported = []language.Tag{language.French, language.English}
	matcher   = language.NewMatcher(supported)
)

// Default returns the default language code
func Default() string {
	return French
}

// Negotiate picks the response language from an explicit preference, then
// an Accept-Language header, then the default.
func Negotiate(explicit, acceptLanguage string) string {
	if explicit != "" {
		if tag, err := language.Parse(explicit); err == nil {
			if lang, ok := match(tag); ok {
				return lang
			}
		}
	}

	if acceptLanguage != "" {
		if tags, _, err := language.ParseAcceptLanguage(acceptLanguage); err == nil && len(tags) > 0 {
			if lang, ok := match(tags...); ok {
				return lang
			}
		}
	}

	return Default()
}

func match(tags ...language.Tag) (string, bool) {
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return "", false
	}
	base, _ := supported[idx].Base()
	return base.String(), true
}

// Message keys for user facing errors
const (
	KeyPermissionDenied    = "permission_denied"
	KeyPositionUnavailable = "position_unavailable"
	KeyTimeout             = "timeout"
	KeyUnsupported         = "unsupported"
	KeyCompressionTooLarge = "compression_too_large"
	KeyInvalidImage        = "invalid_image"
	KeyNetwork             = "network"
	KeyTransient           = "transient"
	KeyUnexpectedFormat    = "unexpected_format"
	KeyInvalidRequest      = "invalid_request"
	KeyRateLimited         = "rate_limited"
	KeyNotFound            = "not_found"
	KeyCanceled            = "canceled"
	KeyInternal            = "internal"
)

var catalog = map[string]map[string]string{
	French: {
		KeyPermissionDenied:    "L'accès à votre position a été refusé. Autorisez la localisation ou choisissez votre ville.",
		KeyPositionUnavailable: "Position indisponible. Réessayez ou choisissez votre ville.",
		KeyTimeout:             "La localisation a pris trop de temps. Réessayez.",
		KeyUnsupported:         "La géolocalisation n'est pas disponible sur cet appareil. Choisissez votre ville.",
		KeyCompressionTooLarge: "La photo est trop complexe. Reprenez-la plus près de la plante, avec moins de détails.",
		KeyInvalidImage:        "Impossible de lire cette image. Utilisez une photo JPEG, PNG ou WebP.",
		KeyNetwork:             "Problème de connexion. Vérifiez votre réseau et réessayez.",
		KeyTransient:           "Le service est momentanément surchargé. Réessayez dans quelques instants.",
		KeyUnexpectedFormat:    "La réponse de l'analyse est illisible. Réessayez.",
		KeyInvalidRequest:      "Requête invalide.",
		KeyRateLimited:         "Trop de demandes. Patientez un instant.",
		KeyNotFound:            "Ressource introuvable.",
		KeyCanceled:            "La demande a été annulée.",
		KeyInternal:            "Une erreur inattendue est survenue.",
	},
	English: {
		KeyPermissionDenied:    "Location access was denied. Allow location or pick your city.",
		KeyPositionUnavailable: "Position unavailable. Try again or pick your city.",
		KeyTimeout:             "Locating took too long. Please try again.",
		KeyUnsupported:         "Geolocation is not available on this device. Pick your city.",
		KeyCompressionTooLarge: "The photo is too complex. Retake it closer to the plant with less detail.",
		KeyInvalidImage:        "This image could not be read. Use a JPEG, PNG or WebP photo.",
		KeyNetwork:             "Connection problem. Check your network and try again.",
		KeyTransient:           "The service is busy right now. Try again in a moment.",
		KeyUnexpectedFormat:    "The analysis response could not be read. Please try again.",
		KeyInvalidRequest:      "Invalid request.",
		KeyRateLimited:         "Too many requests. Please wait a moment.",
		KeyNotFound:            "Not found.",
		KeyCanceled:            "The request was cancelled.",
		KeyInternal:            "An unexpected error occurred.",
	},
}

// Message returns the localized text for key. Unknown languages fall back to
// the default, unknown keys to the internal error text.
func Message(lang, key string) string {
	msgs, ok := catalog[strings.ToLower(lang)]
	if !ok {
		msgs = catalog[Default()]
	}
	if m, ok := msgs[key]; ok {
		return m
	}
	return msgs[KeyInternal]
}
