package domain

import (
	"fmt"
	"strings"
)

// QueueLabel is the destination department queue of a ticket.
type QueueLabel string

const (
	QueueSistemas       QueueLabel = "SISTEMAS"
	QueueHaberes        QueueLabel = "HABERES"
	QueueTesoreria      QueueLabel = "TESORERIA"
	QueueGastosPersonal QueueLabel = "GASTOS_PERSONAL"
	QueueSAF            QueueLabel = "SAF"
	QueueContabilidad   QueueLabel = "CONTABILIDAD"
	QueueContrataciones QueueLabel = "CONTRATACIONES"
	QueueUnclassified   QueueLabel = "UNCLASSIFIED"
)

// QueueLabels returns the classifiable queues, excluding UNCLASSIFIED.
func QueueLabels() []QueueLabel {
	return []QueueLabel{
		QueueSistemas,
		QueueHaberes,
		QueueTesoreria,
		QueueGastosPersonal,
		QueueSAF,
		QueueContabilidad,
		QueueContrataciones,
	}
}

// ParseQueueLabel validates a raw label.
func ParseQueueLabel(raw string) (QueueLabel, error) {
	label := QueueLabel(strings.ToUpper(strings.TrimSpace(raw)))
	if label == QueueUnclassified {
		return label, nil
	}
	for _, known := range QueueLabels() {
		if known == label {
			return label, nil
		}
	}
	return QueueUnclassified, fmt.Errorf("unknown queue label %q", raw)
}

// Topic is a requester-selected subject from the topic menu.
type Topic string

const (
	TopicHaberes         Topic = "Haberes"
	TopicViaticos        Topic = "Viaticos"
	TopicCasinos         Topic = "Casinos | Barrios Militares"
	TopicDatosPersonales Topic = "Datos personales"
	TopicJuicios         Topic = "Juicios"
	TopicSuplementos     Topic = "Suplementos"
	TopicAlquileres      Topic = "Alquileres"
)

var topicCodes = map[string]Topic{
	"1": TopicHaberes,
	"2": TopicViaticos,
	"3": TopicCasinos,
	"4": TopicDatosPersonales,
	"5": TopicJuicios,
	"6": TopicSuplementos,
	"7": TopicAlquileres,
}

var topicQueues = map[Topic]QueueLabel{
	TopicHaberes:     QueueHaberes,
	TopicViaticos:    QueueGastosPersonal,
	TopicSuplementos: QueueHaberes,
	TopicAlquileres:  QueueTesoreria,
}

// TopicForCode resolves a topic menu code.
func TopicForCode(code string) (Topic, bool) {
	topic, ok := topicCodes[strings.TrimSpace(code)]
	return topic, ok
}

// Queue maps the topic to its department queue.
func (t Topic) Queue() QueueLabel {
	if queue, ok := topicQueues[t]; ok {
		return queue
	}
	return QueueUnclassified
}
