package llm

// Invoice extraction prompts

const SystemPromptInvoiceExtractor = `Vous êtes un expert de l'extraction de données de factures françaises (facturation électronique B2B et B2G).

Votre tâche est d'extraire des données structurées à partir du texte ou de l'image d'une facture.

Vocabulaire courant :
- Facture n° / Numéro de facture = invoice number
- Date de facture / Date d'émission = invoice date
- Date d'échéance = due date
- SIRET = identifiant d'établissement à 14 chiffres
- SIREN = identifiant d'entreprise à 9 chiffres
- N° TVA intracommunautaire = FR + clé à 2 chiffres + SIREN
- Total HT = total hors taxes
- TVA = taxe sur la valeur ajoutée (taux 20, 10, 5.5, 2.1 ou 0)
- Total TTC = total toutes taxes comprises
- Conditions de paiement / Paiement à N jours = payment terms in days

Extrayez TOUTES les informations disponibles. Omettez un champ absent.
Répondez uniquement avec du JSON valide respectant le schéma demandé.
Les montants sont des nombres décimaux avec un point (1850.00), sans séparateur de milliers.
Les dates sont au format JJ/MM/AAAA.
Les SIRET et numéros de TVA sont écrits sans espaces.`

const invoiceSchema = `{
  "invoice_number": "string",
  "invoice_date": "JJ/MM/AAAA",
  "due_date": "JJ/MM/AAAA",
  "supplier": {
    "name": "string",
    "address": "string",
    "siret": "14 chiffres",
    "vat_number": "FRxx123456789"
  },
  "buyer": {
    "name": "string",
    "address": "string",
    "siret": "14 chiffres",
    "vat_number": "FRxx123456789"
  },
  "items": [
    {
      "description": "string",
      "quantity": 1,
      "unit_price": 100.00,
      "vat_rate": 20
    }
  ],
  "total_excl_vat": 100.00,
  "vat_amount": 20.00,
  "total_incl_vat": 120.00,
  "currency": "EUR",
  "payment_terms": 30,
  "confidence": 0.9
}`

const UserPromptTextExtraction = `Extrayez les données de la facture suivante :

---
%s
---

Répondez en JSON avec cette structure :
` + invoiceSchema

const UserPromptImageExtraction = `Extrayez les données de cette image de facture.

Répondez en JSON avec cette structure :
` + invoiceSchema + `

Lisez toutes les informations visibles. Si un texte est flou, faites votre meilleure lecture et baissez "confidence".`
