package dialog

import (
	"fmt"

	"github.com/spec-kit/intake-service/internal/domain"
)

const (
	topicMenu   = "1️⃣ Haberes\n2️⃣ Viaticos\n3️⃣ Casinos | Barrios Militares\n4️⃣ Datos personales\n5️⃣ Juicios\n6️⃣ Suplementos\n7️⃣ Alquileres\n\n📝 *O escriba su consulta y la tendremos en cuenta.*"
	ratingMenu  = "1️⃣ Mala\n2️⃣ Regular\n3️⃣ Buena\n4️⃣ Muy Buena\n5️⃣ Excelente"
	profileMenu = "Por favor, selecciona tu perfil:\n\n1️⃣ Personal Militar\n2️⃣ Agente Civil\n3️⃣ Entidad Externa\n4️⃣ Usuario No Registrado"

	msgGreeting           = "👋 Hola! Soy el Asistente Virtual de CGE.\n\n📝 *Solo procesamos mensajes de texto.*\n🚫 *No se aceptan audios ni llamadas.*\n\nPara iniciar, por favor ingrese su número de DNI (sin puntos):"
	msgReset              = "🔄 *Reinicio del Sistema*\n\n👋 Hola de nuevo. Para comenzar, ingrese su DNI (sin puntos):"
	msgInvalidIdentifier  = "❌ DNI inválido. Por favor ingrese solo números."
	msgAskContact         = "👤 No te encontramos registrado con ese DNI.\n\n📧 Por favor, ingrese un correo electrónico de contacto para gestionar su alta:"
	msgInvalidContact     = "❌ Correo inválido. Por favor ingrese una dirección como nombre@dominio.com"
	msgContactTaken       = "⚠️ Ese correo ya está registrado con otra cuenta.\n\nIngrese un correo diferente o escriba *Menu* para reiniciar."
	msgContactSaved       = "📧 Correo registrado. Le enviaremos una invitación para completar su alta.\n\n" + profileMenu
	msgInvalidProfile     = "❌ Opción no válida. Responda 1, 2, 3 o 4."
	msgTooShort           = "⚠️ Por favor, describa su problema con más detalle (mínimo 5 letras) para poder ayudarle."
	msgKnowledgeSolved    = "🌟 ¡Excelente! Nos alegra haber podido ayudar.\n\nSi necesita algo más, escriba *Menu*."
	msgKnowledgeEscalate  = "Entendido, derivando a un operador..."
	msgKnowledgeReprompt  = "🤖 No entendí su respuesta.\n\n¿Esto resuelve su problema?\nResponda *SI* para finalizar.\nResponda *NO* para crear un ticket."
	msgRateService        = "🌟 ¡Nos alegra haber podido ayudar!\n\nPor favor, califique la atención del 1 al 5:\n\n" + ratingMenu
	msgSolutionRejected   = "⚠️ Entendido. Su caso ha sido reabierto y un agente volverá a revisarlo pronto.\n\nPuede agregar más detalles si lo desea."
	msgResolutionAgain    = "🤖 No entendí su respuesta.\n\n¿Se solucionó su problema?\n\nResponda *SI* para cerrar el caso.\nResponda *NO* para que un agente lo contacte nuevamente."
	msgSentToReview       = "✅ Información recibida. Su caso ha sido enviado nuevamente a validación."
	msgMediaWithoutTicket = "📸 Recibí su archivo, pero no tiene un ticket abierto para adjuntarlo.\n\nInicie una consulta primero."
	msgNoOpenTicket       = "❌ No entendí su mensaje o no tiene un ticket abierto.\n\nPor favor, seleccione una opción del menú para iniciar una nueva consulta:\n\n" + topicMenu
	msgRatingThanks       = "🙌 ¡Gracias por su calificación! Hasta luego."
	msgInvalidRating      = "⚠️ Opción no válida.\n\nPor favor, califique la atención respondiendo solo con un número del 1 al 5:\n\n" + ratingMenu

	// RejectionNote is appended to a ticket when the requester refuses the proposed solution.
	RejectionNote = "[RECHAZO DE SOLUCIÓN]: El usuario indicó que NO está resuelto."
)

// WelcomeBackMessage greets a linked account and offers the topic menu.
func WelcomeBackMessage(name string) string {
	return fmt.Sprintf("👋 Hola %s, bienvenido nuevamente.\n\nPor favor, seleccione el tema de su consulta:\n\n%s", name, topicMenu)
}

func msgVerificationLink(link string) string {
	return fmt.Sprintf("🔒 Para validar su identidad, por favor inicie sesión ingresando al siguiente enlace:\n\n%s", link)
}

func msgVerificationPending(link string) string {
	return fmt.Sprintf("⏳ *Identidad pendiente de validación*\n\nEstamos esperando que inicies sesión para vincular tu cuenta.\n\n🔗 *Enlace de validación (Nuevo)*:\n%s\n\n(Haz click y elige \"Ingresar y Verificar\")", link)
}

func msgProfileRegistered(tag domain.ProfileTag, legalURL string) string {
	var notice string
	switch tag {
	case domain.ProfileMilitaryUnverified, domain.ProfileCivilianUnverified:
		notice = fmt.Sprintf("⚠️ *Usuario No Verificado*\n\nPara figurar en el sistema, contacte al Encargado de Informática.\n\n🔗 *Aviso Legal*: %s", legalURL)
	default:
		notice = fmt.Sprintf("✅ Perfil registrado.\n\n🔗 *Aviso Legal*: %s", legalURL)
	}
	return notice + "\n\nPor favor, seleccione el tema de su consulta:\n\n" + topicMenu
}

func msgTopicSelected(topic domain.Topic, legalURL string) string {
	return fmt.Sprintf("📂 Tema seleccionado: *%s*.\n\n⚠️ *Importante*: Al solicitar información detallada, usted consiente el uso de sus datos. Lea nuestro aviso legal aquí:\n🔗 %s\n\n📝 *Por favor, describa detalladamente su consulta ahora:*", topic, legalURL)
}

func msgKnowledgeAnswer(answer string) string {
	return fmt.Sprintf("💡 *Encontré información que podría ayudarle:*\n\n%s\n\n---\n❓ *¿Esto resuelve su problema?*\nResponda *SI* para finalizar.\nResponda *NO* para crear un ticket.", answer)
}

func msgActiveMenu(name string) string {
	return fmt.Sprintf("👋 Hola %s. Escriba aquí para agregar información a su consulta en curso, o escriba *Menu* para comenzar una nueva.", name)
}

func msgAppended(key string) string {
	return fmt.Sprintf("📝 Mensaje agregado al Ticket #%s", key)
}

// TicketCreatedMessage is the chat confirmation sent once a ticket is persisted.
func TicketCreatedMessage(key string) string {
	return fmt.Sprintf("✅ Ticket #%s creado exitosamente.\n\nEn breve nos estaremos comunicando con usted. Si desea, puede agregar más detalles escribiendo aquí mismo.", key)
}

// InactivityClosedMessage tells the requester a ticket was closed for inactivity.
const InactivityClosedMessage = "⏳ *Cierre por Protocolo de Seguridad*\n\nSu ticket ha sido cerrado automáticamente al cumplirse el límite de 24hs de sesión activa sin resolución final.\n\n📅 *Nuestros Horarios:* Lunes a Viernes de 08:00 a 14:00hs.\n\nSi su problema persiste, por favor responda a este mensaje para abrir un nuevo caso."
